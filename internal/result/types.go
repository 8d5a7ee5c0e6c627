package result

import "fmt"

type Status string

const (
	StatusPrepared      Status = "PREPARED"
	StatusAgentComplete Status = "AGENT_EXECUTION_COMPLETE"
	StatusAgentFailed   Status = "AGENT_EXECUTION_FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPrepared, StatusAgentComplete, StatusAgentFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusAgentComplete || s == StatusAgentFailed
}

// CanTransition reports whether the dispatcher may move an instance from s
// to next. Only preparation resets a terminal status, and it writes a fresh
// document rather than transitioning.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPrepared && next.Terminal()
}

// Metadata is the persisted state of one evaluation instance.
type Metadata struct {
	EvalID          string `json:"eval_id"`
	Agent           string `json:"agent"`
	Layer           string `json:"layer"`
	App             string `json:"app"`
	SourceFramework string `json:"source_framework"`
	TargetFramework string `json:"target_framework"`
	Status          Status `json:"status"`
}

func (m *Metadata) validate() error {
	required := []struct {
		name, value string
	}{
		{"eval_id", m.EvalID},
		{"agent", m.Agent},
		{"layer", m.Layer},
		{"app", m.App},
		{"source_framework", m.SourceFramework},
		{"target_framework", m.TargetFramework},
		{"status", string(m.Status)},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("missing field %q", f.name)
		}
	}
	if !m.Status.Valid() {
		return fmt.Errorf("unknown status %q", m.Status)
	}
	return nil
}

package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/gitops"
	"github.com/scarfbench/scarf/internal/result"
	"github.com/scarfbench/scarf/internal/runner"
)

// Files written to an instance's validation dir.
const (
	AgentStdoutFile = "agent.out"
	AgentStderrFile = "agent.err"
	ChangesFile     = "changes.patch"
)

// Dispatcher runs an agent against prepared instances.
type Dispatcher struct {
	Executor    Executor
	Entrypoint  string
	Env         map[string]string
	Timeout     time.Duration
	Jobs        int // instances dispatched concurrently; 1 keeps dispatch sequential
	CaptureDiff bool
	Locker      *result.Locker
}

// InstanceOutcome is the dispatch result of one instance.
type InstanceOutcome struct {
	ID       string        `json:"eval_id"`
	Status   result.Status `json:"status"`
	ExitCode int           `json:"exit_code"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Cause    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

type Summary struct {
	RunID    string            `json:"run_id"`
	Agent    string            `json:"agent"`
	Outcomes []InstanceOutcome `json:"outcomes"`
}

// Failed counts the instances that did not complete.
func (s *Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if !o.Skipped && o.Status != result.StatusAgentComplete {
			n++
		}
	}
	return n
}

// Dispatch runs the agent in agentDir against every instance of plan whose
// agent segment is the agent dir's name. A failing instance never stops
// the others. The returned error covers only problems with agentDir itself.
func (d *Dispatcher) Dispatch(ctx context.Context, agentDir string, plan Plan) (*Summary, error) {
	absAgent, err := filepath.Abs(agentDir)
	if err != nil {
		return nil, errs.Wrap(errs.ErrConfiguration, err, "resolving agent dir %s", agentDir)
	}
	if !isDir(absAgent) {
		return nil, errs.NotFoundf("agent dir %s", absAgent)
	}
	agent, err := AgentName(absAgent)
	if err != nil {
		return nil, err
	}
	if d.Executor == nil {
		d.Executor = ProcessExecutor{}
	}
	if d.Locker == nil {
		d.Locker = result.NewLocker()
	}

	summary := &Summary{RunID: newRunID(), Agent: agent}
	var keys []InstanceKey
	for _, k := range plan.Keys() {
		if k.Agent == agent {
			keys = append(keys, k)
		}
	}
	slog.Info("dispatching agent", "run", summary.RunID, "agent", agent, "instances", len(keys), "jobs", d.Jobs)

	var mu sync.Mutex
	record := func(o InstanceOutcome) {
		mu.Lock()
		summary.Outcomes = append(summary.Outcomes, o)
		mu.Unlock()
	}

	interrupted := func(k InstanceKey) InstanceOutcome {
		return InstanceOutcome{ID: k.String(), ExitCode: -1, Skipped: true, Err: ctx.Err(), Cause: ctx.Err().Error()}
	}

	if d.Jobs <= 1 {
		for _, k := range keys {
			if ctx.Err() != nil {
				record(interrupted(k))
				continue
			}
			record(d.dispatchOne(ctx, absAgent, k, plan[k]))
		}
	} else {
		started := make([]bool, len(keys))
		jobs := make([]runner.Job, len(keys))
		for i, k := range keys {
			jobs[i] = func(ctx context.Context) error {
				started[i] = true
				if ctx.Err() != nil {
					record(interrupted(k))
					return nil
				}
				record(d.dispatchOne(ctx, absAgent, k, plan[k]))
				return nil
			}
		}
		if skipped := runner.RunPool(ctx, d.Jobs, jobs); len(skipped) > 0 {
			slog.Warn("dispatch interrupted", "skipped", len(skipped), "reason", skipped[0])
		}
		for i, k := range keys {
			if !started[i] {
				record(interrupted(k))
			}
		}
	}

	sort.Slice(summary.Outcomes, func(i, j int) bool {
		return summary.Outcomes[i].ID < summary.Outcomes[j].ID
	})
	return summary, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, agentDir string, key InstanceKey, layout Layout) InstanceOutcome {
	id := key.String()
	out := InstanceOutcome{ID: id, ExitCode: -1}
	fail := func(err error) InstanceOutcome {
		out.Err = err
		out.Cause = err.Error()
		slog.Error("instance dispatch failed", "instance", id, "error", err)
		return out
	}

	meta, err := result.ReadMetadata(layout.Root)
	if err != nil {
		return fail(err)
	}
	out.Status = meta.Status
	if err := key.CheckMetadata(meta); err != nil {
		return fail(err)
	}
	if meta.Status != result.StatusPrepared {
		slog.Info("skipping instance that is not prepared", "instance", id, "status", meta.Status)
		out.Skipped = true
		return out
	}

	if err := os.MkdirAll(layout.Validation, 0o755); err != nil {
		return fail(errs.IO(err, "creating %s", layout.Validation))
	}
	stdout, err := os.Create(filepath.Join(layout.Validation, AgentStdoutFile))
	if err != nil {
		return fail(errs.IO(err, "creating agent stdout file"))
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(layout.Validation, AgentStderrFile))
	if err != nil {
		return fail(errs.IO(err, "creating agent stderr file"))
	}
	defer stderr.Close()

	output, err := filepath.Abs(layout.Output)
	if err != nil {
		return fail(errs.IO(err, "resolving %s", layout.Output))
	}
	inv := &Invocation{
		InstanceID:      id,
		AgentDir:        agentDir,
		Entrypoint:      d.Entrypoint,
		OutputDir:       output,
		SourceFramework: key.SourceFramework,
		TargetFramework: key.TargetFramework,
		Env:             d.Env,
		Stdout:          stdout,
		Stderr:          stderr,
		Timeout:         d.Timeout,
	}

	slog.Info("running agent", "instance", id)
	start := time.Now()
	code, execErr := d.Executor.Exec(ctx, inv)
	out.Duration = time.Since(start)
	out.ExitCode = code

	next := result.StatusAgentComplete
	if execErr != nil || code != 0 {
		next = result.StatusAgentFailed
	}
	if execErr != nil {
		fmt.Fprintf(stderr, "scarf: %v\n", execErr)
	}

	meta, err = result.UpdateStatus(d.Locker, layout.Root, next)
	if err != nil {
		return fail(errors.Join(execErr, err))
	}
	out.Status = meta.Status

	if d.CaptureDiff {
		d.captureChanges(ctx, id, layout)
	}
	if execErr != nil {
		return fail(execErr)
	}
	slog.Info("agent finished", "instance", id, "exit", code, "status", out.Status, "duration", out.Duration)
	return out
}

func (d *Dispatcher) captureChanges(ctx context.Context, id string, layout Layout) {
	diff, err := gitops.DiffTrees(ctx, layout.Input, layout.Output)
	if err != nil {
		slog.Warn("capturing changes failed", "instance", id, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(layout.Validation, ChangesFile), diff, 0o644); err != nil {
		slog.Warn("writing changes failed", "instance", id, "error", err)
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Package eval prepares evaluation instances on disk and dispatches agents
// against them.
//
// Each instance is identified by an InstanceKey whose string form
// agent__layer__app__source__target is also its directory name under the
// eval output root.
package eval

import (
	"fmt"
	"strings"

	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/result"
)

// Delimiter separates the segments of an instance id.
const Delimiter = "__"

const segmentCount = 5

type InstanceKey struct {
	Agent           string `json:"agent"`
	Layer           string `json:"layer"`
	App             string `json:"app"`
	SourceFramework string `json:"source_framework"`
	TargetFramework string `json:"target_framework"`
}

func (k InstanceKey) segments() []string {
	return []string{k.Agent, k.Layer, k.App, k.SourceFramework, k.TargetFramework}
}

// String returns the instance id.
func (k InstanceKey) String() string {
	return strings.Join(k.segments(), Delimiter)
}

// Validate checks that String and ParseInstanceID round-trip for k. A
// segment may not be empty, contain the delimiter or a path separator, or
// start or end with '_' (which would merge into an adjacent delimiter).
func (k InstanceKey) Validate() error {
	names := []string{"agent", "layer", "app", "source framework", "target framework"}
	for i, seg := range k.segments() {
		switch {
		case seg == "":
			return errs.New(errs.ErrMalformedInstanceID, "%s is empty", names[i])
		case strings.Contains(seg, Delimiter):
			return errs.New(errs.ErrMalformedInstanceID, "%s %q contains %q", names[i], seg, Delimiter)
		case strings.HasPrefix(seg, "_") || strings.HasSuffix(seg, "_"):
			return errs.New(errs.ErrMalformedInstanceID, "%s %q starts or ends with '_'", names[i], seg)
		case strings.ContainsAny(seg, `/\`) || seg == "." || seg == "..":
			return errs.New(errs.ErrMalformedInstanceID, "%s %q is not a plain name", names[i], seg)
		}
	}
	return nil
}

// ParseInstanceID recovers the key from an instance id. Exactly five
// non-empty segments are required.
func ParseInstanceID(id string) (InstanceKey, error) {
	parts := strings.Split(id, Delimiter)
	if len(parts) != segmentCount {
		return InstanceKey{}, errs.New(errs.ErrMalformedInstanceID, "%q has %d segments, want %d", id, len(parts), segmentCount)
	}
	key := InstanceKey{
		Agent:           parts[0],
		Layer:           parts[1],
		App:             parts[2],
		SourceFramework: parts[3],
		TargetFramework: parts[4],
	}
	if err := key.Validate(); err != nil {
		return InstanceKey{}, fmt.Errorf("parsing %q: %w", id, err)
	}
	return key, nil
}

// Metadata builds the persisted document for k.
func (k InstanceKey) Metadata(status result.Status) *result.Metadata {
	return &result.Metadata{
		EvalID:          k.String(),
		Agent:           k.Agent,
		Layer:           k.Layer,
		App:             k.App,
		SourceFramework: k.SourceFramework,
		TargetFramework: k.TargetFramework,
		Status:          status,
	}
}

// CheckMetadata reports whether meta describes k. The directory name and
// the document fields are two copies of the same identity and can drift if
// either is edited by hand.
func (k InstanceKey) CheckMetadata(meta *result.Metadata) error {
	want := k.Metadata(meta.Status)
	if *want != *meta {
		return errs.New(errs.ErrCorruptMetadata, "metadata %q does not match instance directory %q", meta.EvalID, k.String())
	}
	return nil
}

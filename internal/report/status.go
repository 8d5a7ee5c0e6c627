package report

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/eval"
	"github.com/scarfbench/scarf/internal/result"
)

// InstanceStatus is one row of eval status.
type InstanceStatus struct {
	ID              string        `json:"eval_id"`
	Agent           string        `json:"agent"`
	Layer           string        `json:"layer"`
	App             string        `json:"app"`
	SourceFramework string        `json:"source_framework"`
	TargetFramework string        `json:"target_framework"`
	Status          result.Status `json:"status,omitempty"`
	HasChanges      bool          `json:"has_changes"`
	Problem         string        `json:"problem,omitempty"`
}

// CollectStatus reads every instance under evalOut. Unreadable or
// inconsistent metadata is reported on the instance instead of failing the
// whole collection; directories that are not instances are ignored.
func CollectStatus(evalOut string) ([]InstanceStatus, error) {
	entries, err := os.ReadDir(evalOut)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.NotFoundf("eval output dir %s", evalOut)
		}
		return nil, errs.IO(err, "reading %s", evalOut)
	}

	var rows []InstanceStatus
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		key, err := eval.ParseInstanceID(e.Name())
		if err != nil {
			continue
		}
		layout := eval.NewLayout(evalOut, key)
		row := InstanceStatus{
			ID:              key.String(),
			Agent:           key.Agent,
			Layer:           key.Layer,
			App:             key.App,
			SourceFramework: key.SourceFramework,
			TargetFramework: key.TargetFramework,
		}
		meta, err := result.ReadMetadata(layout.Root)
		if err == nil {
			err = key.CheckMetadata(meta)
		}
		if err != nil {
			row.Problem = err.Error()
		} else {
			row.Status = meta.Status
		}
		if info, err := os.Stat(filepath.Join(layout.Validation, eval.ChangesFile)); err == nil && info.Size() > 0 {
			row.HasChanges = true
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// Tally counts instances per status. Instances with a problem count under
// "INVALID".
func Tally(rows []InstanceStatus) map[string]int {
	t := make(map[string]int)
	for _, r := range rows {
		if r.Problem != "" {
			t["INVALID"]++
			continue
		}
		t[string(r.Status)]++
	}
	return t
}

type evalJSON struct {
	Instances []InstanceStatus `json:"instances"`
	Counts    map[string]int   `json:"counts"`
}

// WriteEval renders the status of an eval output tree.
func WriteEval(w io.Writer, rows []InstanceStatus, format string) error {
	if err := CheckFormat(format); err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		if rows == nil {
			rows = []InstanceStatus{}
		}
		return writeJSON(w, evalJSON{Instances: rows, Counts: Tally(rows)})
	case FormatMarkdown:
		fmt.Fprintln(w, "| Instance | Status | Changes |")
		fmt.Fprintln(w, "|---|---|---|")
		for _, r := range rows {
			fmt.Fprintf(w, "| %s | %s | %s |\n", r.ID, statusText(r), yesNo(r.HasChanges))
		}
		_, err := fmt.Fprintf(w, "\n%s\n", tallyLine(rows))
		return err
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INSTANCE\tSTATUS\tCHANGES")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, statusText(r), yesNo(r.HasChanges))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "\n%s\n", tallyLine(rows))
		return err
	}
}

func statusText(r InstanceStatus) string {
	if r.Problem != "" {
		return "INVALID: " + firstLine(r.Problem)
	}
	return string(r.Status)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func tallyLine(rows []InstanceStatus) string {
	t := Tally(rows)
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, t[k]))
	}
	if len(parts) == 0 {
		return "0 instances"
	}
	return fmt.Sprintf("%d instances: %s", len(rows), strings.Join(parts, " "))
}

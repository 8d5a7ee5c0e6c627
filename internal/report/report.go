package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/runner"
)

// Output formats.
const (
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// CheckFormat rejects unknown output formats. Empty means table.
func CheckFormat(format string) error {
	switch format {
	case "", FormatTable, FormatMarkdown, FormatJSON:
		return nil
	}
	return errs.Configf("unknown format %q (want table, markdown or json)", format)
}

type benchJSON struct {
	*runner.Report
	Counts runner.Counts `json:"counts"`
}

// WriteBench renders a bench test report.
func WriteBench(w io.Writer, rep *runner.Report, format string) error {
	if err := CheckFormat(format); err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		return writeJSON(w, benchJSON{Report: rep, Counts: rep.Counts()})
	case FormatMarkdown:
		return writeBenchMarkdown(w, rep)
	default:
		return writeBenchTable(w, rep)
	}
}

func writeBenchTable(w io.Writer, rep *runner.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIR\tOUTCOME\tEXIT\tDURATION\tDETAIL")
	for _, r := range rep.Results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Dir, r.Kind, r.ExitCode, round(r.Duration), detail(r))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	c := rep.Counts()
	_, err := fmt.Fprintf(w, "\n%d succeeded, %d failed, %d errored\n", c.Success, c.Failure, c.Error)
	return err
}

func writeBenchMarkdown(w io.Writer, rep *runner.Report) error {
	fmt.Fprintln(w, "| Dir | Outcome | Exit | Duration | Detail |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	for _, r := range rep.Results {
		fmt.Fprintf(w, "| %s | %s | %d | %s | %s |\n", r.Dir, r.Kind, r.ExitCode, round(r.Duration), detail(r))
	}
	c := rep.Counts()
	_, err := fmt.Fprintf(w, "\n**%d** succeeded, **%d** failed, **%d** errored\n", c.Success, c.Failure, c.Error)
	return err
}

// detail is the one-line explanation shown next to a non-successful task.
func detail(r runner.TaskResult) string {
	switch {
	case r.Kind == runner.Success:
		return ""
	case r.TimedOut:
		return "timed out"
	case r.Cause != "":
		return firstLine(r.Cause)
	default:
		return firstLine(r.Stderr)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		cut := 57
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

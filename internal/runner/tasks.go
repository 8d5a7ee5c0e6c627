package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scarfbench/scarf/internal/errs"
)

// ExitTimedOut is the exit code recorded for a task killed by its timeout.
const ExitTimedOut = 124

// Kind classifies a task outcome.
type Kind int

const (
	Success Kind = iota
	Failure
	Error
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "error"
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// CommandSpec is the command fanned out to every directory.
type CommandSpec struct {
	Name    string
	Args    []string
	Marker  string        // checked in each directory before running; empty skips the check
	Timeout time.Duration // zero means no timeout
}

func (c CommandSpec) String() string {
	return fmt.Sprint(append([]string{c.Name}, c.Args...))
}

// TaskResult is the outcome of running the command in one directory.
type TaskResult struct {
	Dir      string        `json:"dir"`
	Kind     Kind          `json:"outcome"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Cause    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

// Report aggregates every task of one fan-out, sorted by directory.
type Report struct {
	RunID   string       `json:"run_id"`
	Command []string     `json:"command"`
	Started time.Time    `json:"started"`
	Results []TaskResult `json:"results"`
}

type Counts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Error   int `json:"error"`
}

func (r *Report) Counts() Counts {
	var c Counts
	for _, res := range r.Results {
		switch res.Kind {
		case Success:
			c.Success++
		case Failure:
			c.Failure++
		default:
			c.Error++
		}
	}
	return c
}

// RunAll executes spec in every directory of dirs on a pool of workers
// (runtime.NumCPU() when workers <= 0). A failing task never affects its
// siblings. Results are delivered to a single aggregator over one channel;
// RunAll returns only after every dispatched task has reported.
func RunAll(ctx context.Context, dirs []string, spec CommandSpec, workers int) *Report {
	report := &Report{
		RunID:   newRunID(),
		Command: append([]string{spec.Name}, spec.Args...),
		Started: time.Now().UTC(),
	}
	dirs = dedupe(dirs)
	if len(dirs) == 0 {
		return report
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(dirs) {
		workers = len(dirs)
	}
	slog.Info("running tasks", "run", report.RunID, "tasks", len(dirs), "workers", workers, "command", spec.String())

	work := make(chan string)
	results := make(chan TaskResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dir := range work {
				results <- runTask(ctx, dir, spec)
			}
		}()
	}
	go func() {
		for _, dir := range dirs {
			work <- dir
		}
		close(work)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	report.Results = make([]TaskResult, 0, len(dirs))
	for res := range results {
		slog.Debug("task finished", "dir", res.Dir, "outcome", res.Kind, "exit", res.ExitCode, "duration", res.Duration)
		report.Results = append(report.Results, res)
	}
	if len(report.Results) != len(dirs) {
		// Unreachable while every worker sends exactly one result per dir.
		slog.Error("task results lost", "want", len(dirs), "got", len(report.Results))
	}
	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Dir < report.Results[j].Dir
	})
	return report
}

func runTask(ctx context.Context, dir string, spec CommandSpec) TaskResult {
	res := TaskResult{Dir: dir}
	fail := func(err error) TaskResult {
		res.Kind = Error
		res.ExitCode = -1
		res.Err = err
		res.Cause = err.Error()
		return res
	}

	if spec.Marker != "" {
		info, err := os.Stat(filepath.Join(dir, spec.Marker))
		if err != nil || !info.Mode().IsRegular() {
			return fail(errs.NotFoundf("%s has no %s", dir, spec.Marker))
		}
	}

	if ctx.Err() != nil {
		return fail(fmt.Errorf("task not started: %w", ctx.Err()))
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fail(errs.Wrap(errs.ErrSpawn, err, "starting %s in %s", spec.Name, dir))
	}
	err := cmd.Wait()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Kind = Success
	case ctx.Err() != nil:
		return fail(fmt.Errorf("task interrupted: %w", ctx.Err()))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Kind = Failure
		res.TimedOut = true
		res.ExitCode = ExitTimedOut
		res.Err = errs.New(errs.ErrTaskFailure, "%s timed out after %s", dir, spec.Timeout)
		res.Cause = res.Err.Error()
	case errors.As(err, &exitErr) && missingTarget(spec, exitErr.ExitCode(), res.Stderr):
		res.Kind = Error
		res.ExitCode = exitErr.ExitCode()
		res.Err = errs.NotFoundf("%s has no %s target", dir, makeTarget(spec.Args))
		res.Cause = res.Err.Error()
	case errors.As(err, &exitErr):
		res.Kind = Failure
		res.ExitCode = exitErr.ExitCode()
		res.Err = errs.New(errs.ErrTaskFailure, "%s exited with status %d", dir, res.ExitCode)
		res.Cause = res.Err.Error()
	default:
		return fail(errs.IO(err, "waiting for %s in %s", spec.Name, dir))
	}
	return res
}

// missingTarget reports whether a make invocation failed because the
// directory has no rule for the requested target.
func missingTarget(spec CommandSpec, code int, stderr string) bool {
	if filepath.Base(spec.Name) != "make" || code != 2 {
		return false
	}
	return strings.Contains(stderr, "No rule to make target") ||
		strings.Contains(stderr, "don't know how to make")
}

// makeTarget returns the first non-flag argument of a make command line.
func makeTarget(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") && !strings.Contains(a, "=") {
			return a
		}
	}
	return "default"
}

func dedupe(dirs []string) []string {
	seen := make(map[string]struct{}, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

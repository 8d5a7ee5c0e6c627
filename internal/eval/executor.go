package eval

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/scarfbench/scarf/internal/errs"
)

// Environment variables handed to the agent.
const (
	EnvWorkDir       = "SCARF_WORK_DIR"
	EnvFrameworkFrom = "SCARF_FRAMEWORK_FROM"
	EnvFrameworkTo   = "SCARF_FRAMEWORK_TO"
	EnvInstanceID    = "SCARF_EVAL_ID"
)

// ExitTimedOut is the exit code reported for an agent killed by its timeout.
const ExitTimedOut = 124

// Invocation describes one agent run against one instance.
type Invocation struct {
	InstanceID      string
	AgentDir        string // absolute
	Entrypoint      string // relative to AgentDir
	OutputDir       string // absolute, host side
	SourceFramework string
	TargetFramework string
	Env             map[string]string
	Stdout          io.Writer
	Stderr          io.Writer
	Timeout         time.Duration
}

// Environ returns the agent environment as KEY=VALUE pairs, sorted, with
// workDir as the location of the instance output dir as the agent sees it.
func (inv *Invocation) Environ(workDir string) []string {
	env := make(map[string]string, len(inv.Env)+4)
	for k, v := range inv.Env {
		env[k] = v
	}
	env[EnvWorkDir] = workDir
	env[EnvFrameworkFrom] = inv.SourceFramework
	env[EnvFrameworkTo] = inv.TargetFramework
	env[EnvInstanceID] = inv.InstanceID

	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// Executor runs an agent invocation and reports its exit code. An error
// means the agent could not be run at all.
type Executor interface {
	Exec(ctx context.Context, inv *Invocation) (int, error)
}

// ProcessExecutor runs the entry point as a local process with the agent
// directory as working directory.
type ProcessExecutor struct{}

func (ProcessExecutor) Exec(ctx context.Context, inv *Invocation) (int, error) {
	path := filepath.Join(inv.AgentDir, inv.Entrypoint)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return -1, errs.NotFoundf("agent entry point %s", path)
		}
		return -1, errs.IO(err, "reading agent entry point %s", path)
	}
	if info.IsDir() {
		return -1, errs.NotFoundf("agent entry point %s is a directory", path)
	}

	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path)
	cmd.Dir = inv.AgentDir
	cmd.Env = append(os.Environ(), inv.Environ(inv.OutputDir)...)
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		return -1, errs.Wrap(errs.ErrSpawn, err, "starting %s", path)
	}
	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return ExitTimedOut, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errs.IO(err, "waiting for %s", path)
}

package docker_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scarfbench/scarf/internal/docker"
	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/eval"
)

var _ eval.Executor = docker.ContainerExecutor{}

func requireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("SCARF_DOCKER_TESTS") == "" {
		t.Skip("set SCARF_DOCKER_TESTS=1 to run Docker tests")
	}
}

func TestRunContainer(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	workDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	result, err := docker.RunContainer(ctx, &docker.RunOpts{
		Image:   "alpine:latest",
		Command: []string{"sh", "-c", "echo hello > /workspace/output.txt; echo out; echo err >&2"},
		Env:     []string{"SCARF_WORK_DIR=/workspace"},
		Mounts:  []docker.Mount{{Source: workDir, Target: docker.WorkspaceMount}},
		Timeout: 30 * time.Second,
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if err != nil {
		t.Fatalf("RunContainer: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code: got %d, want 0", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("unexpected timeout")
	}
	content, err := os.ReadFile(filepath.Join(workDir, "output.txt"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("output: got %q, want %q", content, "hello\n")
	}
	if stdout.String() != "out\n" || stderr.String() != "err\n" {
		t.Errorf("streams: stdout %q stderr %q", stdout.String(), stderr.String())
	}
}

func TestRunContainerTimeout(t *testing.T) {
	requireDocker(t)
	result, err := docker.RunContainer(context.Background(), &docker.RunOpts{
		Image:   "alpine:latest",
		Command: []string{"sleep", "300"},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("RunContainer: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected timeout")
	}
	if result.ExitCode != eval.ExitTimedOut {
		t.Errorf("exit code: got %d, want %d", result.ExitCode, eval.ExitTimedOut)
	}
}

func TestRunContainerCrash(t *testing.T) {
	requireDocker(t)
	result, err := docker.RunContainer(context.Background(), &docker.RunOpts{
		Image:   "alpine:latest",
		Command: []string{"sh", "-c", "exit 1"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("RunContainer: %v", err)
	}
	if result.ExitCode != 1 {
		t.Errorf("exit code: got %d, want 1", result.ExitCode)
	}
}

func TestContainerExecutor(t *testing.T) {
	requireDocker(t)
	agentDir := t.TempDir()
	script := "#!/bin/sh\necho \"$SCARF_FRAMEWORK_FROM->$SCARF_FRAMEWORK_TO\" > \"$SCARF_WORK_DIR/result.txt\"\n"
	if err := os.WriteFile(filepath.Join(agentDir, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()

	code, err := docker.ContainerExecutor{Image: "alpine:latest"}.Exec(context.Background(), &eval.Invocation{
		InstanceID:      "a__l__app__spring__quarkus",
		AgentDir:        agentDir,
		Entrypoint:      "run.sh",
		OutputDir:       outDir,
		SourceFramework: "spring",
		TargetFramework: "quarkus",
		Timeout:         30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code: got %d, want 0", code)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "result.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "spring->quarkus\n" {
		t.Errorf("result: got %q", got)
	}
}

func TestContainerExecutorRequiresImage(t *testing.T) {
	_, err := docker.ContainerExecutor{}.Exec(context.Background(), &eval.Invocation{})
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Errorf("got %v, want configuration error", err)
	}
}

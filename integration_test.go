//go:build integration

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scarfbench/scarf/cmd"
	"github.com/scarfbench/scarf/internal/eval"
	"github.com/scarfbench/scarf/internal/result"
)

// createFixtureCheckout creates a minimal scarf checkout with one app in
// two frameworks.
func createFixtureCheckout(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"benchmark/business_domain/hello/spring/Makefile":        "test:\n\ttest -f src/Hello.java\n",
		"benchmark/business_domain/hello/spring/src/Hello.java":  "class Hello { String framework = \"spring\"; }\n",
		"benchmark/business_domain/hello/spring/Dockerfile":      "FROM scratch\n",
		"benchmark/business_domain/hello/quarkus/Makefile":       "test:\n\ttest -f src/Hello.java\n",
		"benchmark/business_domain/hello/quarkus/src/Hello.java": "class Hello { String framework = \"quarkus\"; }\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	root := cmd.NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("scarf %s: %v\n%s", strings.Join(args, " "), err, errOut.String())
	}
	return out.String()
}

func TestContainerAgentIntegration(t *testing.T) {
	if os.Getenv("SCARF_DOCKER_TESTS") == "" {
		t.Skip("set SCARF_DOCKER_TESTS=1 to run integration tests")
	}

	checkout := createFixtureCheckout(t)
	work := t.TempDir()
	t.Chdir(work)
	config := "agent:\n  image: alpine:latest\n  timeout: 60s\n  env:\n    GREETING: hi\n"
	if err := os.WriteFile(filepath.Join(work, "scarf.yaml"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	agentDir := filepath.Join(t.TempDir(), "sed-agent")
	script := "#!/bin/sh\n" +
		"echo \"$GREETING from $(pwd)\"\n" +
		"sed -i \"s/$SCARF_FRAMEWORK_FROM/$SCARF_FRAMEWORK_TO/\" \"$SCARF_WORK_DIR/src/Hello.java\"\n"
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(agentDir, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	out := run(t, "eval", "run",
		"--benchmark-dir", filepath.Join(checkout, "benchmark"),
		"--agent-dir", agentDir,
		"--from-framework", "spring",
		"--to-framework", "quarkus",
	)
	if !strings.Contains(out, "0 failed") {
		t.Errorf("summary: %s", out)
	}

	instance := filepath.Join(work, "eval_out", "sed-agent__business_domain__hello__spring__quarkus")
	meta, err := result.ReadMetadata(instance)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.Status != result.StatusAgentComplete {
		t.Errorf("status: got %s, want %s", meta.Status, result.StatusAgentComplete)
	}

	converted, err := os.ReadFile(filepath.Join(instance, "output", "src", "Hello.java"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(converted), "quarkus") {
		t.Errorf("output not converted: %s", converted)
	}
	if _, err := os.Stat(filepath.Join(instance, "input", "Dockerfile")); !os.IsNotExist(err) {
		t.Error("Dockerfile should not be copied")
	}
	logs, err := os.ReadFile(filepath.Join(instance, "validation", eval.AgentStdoutFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(logs) != "hi from /agent\n" {
		t.Errorf("agent stdout: got %q", logs)
	}

	status := run(t, "eval", "status")
	if !strings.Contains(status, "AGENT_EXECUTION_COMPLETE") {
		t.Errorf("status output: %s", status)
	}
}

func TestBenchTestIntegration(t *testing.T) {
	checkout := createFixtureCheckout(t)
	t.Chdir(t.TempDir())
	out := run(t, "bench", "test", "--root", checkout, "--format", "markdown")
	if !strings.Contains(out, "**2** succeeded") {
		t.Errorf("bench output: %s", out)
	}
}

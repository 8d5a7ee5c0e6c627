package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// DiffTrees returns a unified diff from the before tree to the after tree.
// git needs no repository for --no-index. It exits 1 both when the trees
// differ and on some failures, so stderr decides which one happened.
func DiffTrees(ctx context.Context, before, after string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--no-index", "--no-color", "--binary", "--", before, after)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && stderr.Len() == 0 {
		return out, nil
	}
	return nil, fmt.Errorf("git diff --no-index: %s: %w", bytes.TrimSpace(stderr.Bytes()), err)
}

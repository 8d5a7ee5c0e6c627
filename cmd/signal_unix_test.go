//go:build unix

package cmd

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestSignalContextCancelledOnSIGTERM(t *testing.T) {
	ctx, stop := signalContext(&cobra.Command{})
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scarfbench/scarf/internal/config"
)

// LogEnv overrides the -v flags when set to debug, info, warn or error.
const LogEnv = "SCARF_LOG"

var (
	cfgFile   string
	verbosity int
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scarf",
		Short:         "Benchmark harness for framework migration agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), verbosity)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err.Error())
	})
	root.AddCommand(newBenchCmd())
	root.AddCommand(newEvalCmd())
	return root
}

func setupLogging(w io.Writer, verbosity int) {
	level := logLevel(verbosity, os.Getenv(LogEnv))
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// logLevel maps the -v count to a level; a valid env value wins.
func logLevel(verbosity int, env string) slog.Level {
	if env != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.TrimSpace(env))); err == nil {
			return l
		}
	}
	switch {
	case verbosity >= 2:
		return slog.LevelDebug
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// signalContext is cancelled on the first SIGINT or SIGTERM so running
// tasks can be reaped.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, commandError("loading config", err)
	}
	return cfg, nil
}

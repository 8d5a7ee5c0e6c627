package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scarfbench/scarf/internal/config"
	"github.com/scarfbench/scarf/internal/docker"
	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/eval"
	"github.com/scarfbench/scarf/internal/report"
)

var (
	flagBenchmarkDir  string
	flagAgentDir      string
	flagLayers        []string
	flagApps          []string
	flagFromFramework string
	flagToFramework   string
	flagEvalOut       string
	flagJobs          int
	flagPrepareOnly   bool
	flagEvalFormat    string
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Prepare evaluation instances and run agents against them",
	}
	cmd.AddCommand(newEvalRunCmd())
	cmd.AddCommand(newEvalDispatchCmd())
	cmd.AddCommand(newEvalStatusCmd())
	return cmd
}

func newEvalRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Prepare instances for an agent and dispatch it",
		Long: "Creates one instance per selected application under the eval output dir,\n" +
			"seeds input/ and output/ with the source framework implementation, then runs\n" +
			"the agent on each instance. Per-instance failures are recorded in metadata.json\n" +
			"and do not change the exit code.",
		Args: cobra.NoArgs,
		RunE: runEval,
	}
	cmd.Flags().StringVar(&flagBenchmarkDir, "benchmark-dir", "", "benchmark directory (default from config)")
	cmd.Flags().StringVar(&flagAgentDir, "agent-dir", "", "agent directory; its name becomes the agent id")
	cmd.Flags().StringSliceVar(&flagLayers, "layer", nil, "layer to include (repeatable; default all)")
	cmd.Flags().StringSliceVar(&flagApps, "app", nil, "application to include (repeatable; default all)")
	cmd.Flags().StringVar(&flagFromFramework, "from-framework", "", "source framework")
	cmd.Flags().StringVar(&flagToFramework, "to-framework", "", "target framework")
	cmd.Flags().StringVar(&flagEvalOut, "eval-out", "", "eval output directory (default from config)")
	cmd.Flags().IntVar(&flagJobs, "jobs", 0, "instances dispatched concurrently (default from config)")
	cmd.Flags().BoolVar(&flagPrepareOnly, "prepare-only", false, "create the instances without running the agent")
	return cmd
}

func newEvalDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run an agent against already prepared instances",
		Args:  cobra.NoArgs,
		RunE:  runEvalDispatch,
	}
	cmd.Flags().StringVar(&flagAgentDir, "agent-dir", "", "agent directory; only instances of this agent are run")
	cmd.Flags().StringVar(&flagEvalOut, "eval-out", "", "eval output directory (default from config)")
	cmd.Flags().IntVar(&flagJobs, "jobs", 0, "instances dispatched concurrently (default from config)")
	return cmd
}

func newEvalStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of every instance in an eval output dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := report.CheckFormat(flagEvalFormat); err != nil {
				return usageError("%v", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			evalOut := pick(flagEvalOut, cfg.EvalOut)
			rows, err := report.CollectStatus(evalOut)
			if err != nil {
				return commandError("reading eval output", err)
			}
			return report.WriteEval(cmd.OutOrStdout(), rows, flagEvalFormat)
		},
	}
	cmd.Flags().StringVar(&flagEvalOut, "eval-out", "", "eval output directory (default from config)")
	cmd.Flags().StringVar(&flagEvalFormat, "format", report.FormatTable, "output format (table, markdown, json)")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	if flagAgentDir == "" {
		return usageError("--agent-dir is required")
	}
	if flagFromFramework == "" || flagToFramework == "" {
		return usageError("--from-framework and --to-framework are required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	agentName, err := eval.AgentName(flagAgentDir)
	if err != nil {
		return commandError("resolving agent", err)
	}
	if !flagPrepareOnly {
		if err := checkAgentDir(flagAgentDir); err != nil {
			return commandError("resolving agent", err)
		}
	}

	opts := &eval.BuildOptions{
		BenchmarkDir:    pick(flagBenchmarkDir, cfg.BenchmarkDir),
		EvalOut:         pick(flagEvalOut, cfg.EvalOut),
		AgentName:       agentName,
		Layers:          flagLayers,
		Apps:            flagApps,
		SourceFramework: flagFromFramework,
		TargetFramework: flagToFramework,
	}
	plan, err := eval.Prepare(opts)
	if err != nil {
		return commandError("preparing instances", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Prepared %d instance(s) in %s\n", len(plan), opts.EvalOut)
	if flagPrepareOnly || len(plan) == 0 {
		return nil
	}
	return dispatch(cmd, cfg, plan)
}

func runEvalDispatch(cmd *cobra.Command, args []string) error {
	if flagAgentDir == "" {
		return usageError("--agent-dir is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := checkAgentDir(flagAgentDir); err != nil {
		return commandError("resolving agent", err)
	}
	evalOut := pick(flagEvalOut, cfg.EvalOut)
	plan, err := eval.LoadPlan(evalOut)
	if err != nil {
		return commandError("loading instances", err)
	}
	return dispatch(cmd, cfg, plan)
}

func dispatch(cmd *cobra.Command, cfg *config.Config, plan eval.Plan) error {
	d, err := newDispatcher(cmd, cfg)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	summary, err := d.Dispatch(ctx, flagAgentDir, plan)
	if err != nil {
		return commandError("dispatching agent", err)
	}
	return writeSummary(cmd.OutOrStdout(), summary)
}

func newDispatcher(cmd *cobra.Command, cfg *config.Config) (*eval.Dispatcher, error) {
	env, err := cfg.AgentEnv()
	if err != nil {
		return nil, commandError("loading agent env", err)
	}
	jobs := cfg.Jobs
	if cmd.Flags().Changed("jobs") {
		jobs = flagJobs
	}
	if jobs < 1 {
		slog.Warn("jobs must be at least 1, using 1", "jobs", jobs)
		jobs = 1
	}
	d := &eval.Dispatcher{
		Entrypoint:  cfg.Agent.Entrypoint,
		Env:         env,
		Timeout:     cfg.Agent.Timeout,
		Jobs:        jobs,
		CaptureDiff: cfg.Agent.Diff(),
	}
	if cfg.Agent.Image != "" {
		slog.Info("running agent in container", "image", cfg.Agent.Image)
		d.Executor = docker.ContainerExecutor{Image: cfg.Agent.Image}
	}
	return d, nil
}

func writeSummary(w io.Writer, s *eval.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tSTATUS\tEXIT\tDURATION")
	for _, o := range s.Outcomes {
		status := string(o.Status)
		switch {
		case o.Skipped && o.Err != nil:
			status = "SKIPPED (interrupted)"
		case o.Skipped:
			status = "SKIPPED (" + status + ")"
		case o.Err != nil && o.Status == "":
			status = "ERROR"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", o.ID, status, o.ExitCode, o.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nRun %s: %d instance(s), %d failed\n", s.RunID, len(s.Outcomes), s.Failed())
	return err
}

func checkAgentDir(dir string) error {
	_, err := eval.AgentName(dir)
	if err != nil {
		return err
	}
	if !isDir(dir) {
		return errs.NotFoundf("agent dir %s", dir)
	}
	return nil
}

// pick returns flag unless it is empty.
func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

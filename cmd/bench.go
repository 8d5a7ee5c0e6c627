package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scarfbench/scarf/internal/bench"
	"github.com/scarfbench/scarf/internal/report"
	"github.com/scarfbench/scarf/internal/runner"
)

var (
	flagBenchRoot   string
	flagBenchLayer  string
	flagDryRun      bool
	flagWorkers     int
	flagTimeout     time.Duration
	flagBenchFormat string
	flagResultsJSON string
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Inspect and test the benchmark applications",
	}
	cmd.PersistentFlags().StringVar(&flagBenchRoot, "root", ".", "root of the scarf checkout (contains benchmark/)")
	cmd.PersistentFlags().StringVar(&flagBenchLayer, "layer", "", "restrict to one layer")
	cmd.AddCommand(newBenchListCmd())
	cmd.AddCommand(newBenchTestCmd())
	return cmd
}

func newBenchListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List layer/app/framework triples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := report.CheckFormat(flagBenchFormat); err != nil {
				return usageError("%v", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			entries, err := bench.List(flagBenchRoot, flagBenchLayer, cfg.Bench.Marker)
			if err != nil {
				return commandError("listing benchmark", err)
			}
			out := cmd.OutOrStdout()
			switch flagBenchFormat {
			case report.FormatJSON:
				if entries == nil {
					entries = []bench.Entry{}
				}
				return writeJSON(out, entries)
			case report.FormatMarkdown:
				fmt.Fprintln(out, "| Layer | App | Framework |")
				fmt.Fprintln(out, "|---|---|---|")
				for _, e := range entries {
					fmt.Fprintf(out, "| %s | %s | %s |\n", e.Layer, e.App, e.Framework)
				}
				return nil
			default:
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LAYER\tAPP\tFRAMEWORK")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Layer, e.App, e.Framework)
				}
				return tw.Flush()
			}
		},
	}
	cmd.Flags().StringVar(&flagBenchFormat, "format", report.FormatTable, "output format (table, markdown, json)")
	return cmd
}

func newBenchTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the test command in every application directory",
		Long: "Runs the configured test command (default: make test) in every directory\n" +
			"under benchmark/ that contains the marker file, on a bounded worker pool.\n" +
			"Exits 0 once every task has run, whatever the outcomes.",
		Args: cobra.NoArgs,
		RunE: runBenchTest,
	}
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "run the dry-run command instead (default: make -n test)")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent tasks (default from config, 0 = number of CPUs)")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "per-task timeout (default from config, 0 = none)")
	cmd.Flags().StringVar(&flagBenchFormat, "format", report.FormatTable, "output format (table, markdown, json)")
	cmd.Flags().StringVar(&flagResultsJSON, "results-json", "", "also write the full JSON report to this file")
	return cmd
}

func runBenchTest(cmd *cobra.Command, args []string) error {
	if err := report.CheckFormat(flagBenchFormat); err != nil {
		return usageError("%v", err)
	}
	if flagWorkers < 0 || flagTimeout < 0 {
		return usageError("--workers and --timeout must not be negative")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	argv := cfg.Bench.Command
	if flagDryRun {
		argv = cfg.Bench.DryRunCommand
	}
	spec := runner.CommandSpec{
		Name:    argv[0],
		Args:    argv[1:],
		Marker:  cfg.Bench.Marker,
		Timeout: cfg.Bench.Timeout,
	}
	if cmd.Flags().Changed("timeout") {
		spec.Timeout = flagTimeout
	}
	workers := cfg.Bench.Workers
	if cmd.Flags().Changed("workers") {
		workers = flagWorkers
	}

	base := bench.BenchmarkRoot(flagBenchRoot)
	if flagBenchLayer != "" {
		base = filepath.Join(base, flagBenchLayer)
	}
	dirs, err := bench.Discover(base, cfg.Bench.Marker)
	if err != nil {
		return commandError("discovering applications", err)
	}
	if len(dirs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No directories containing %s under %s\n", cfg.Bench.Marker, base)
		return nil
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	rep := runner.RunAll(ctx, dirs, spec, workers)

	if flagResultsJSON != "" {
		if err := writeResultsJSON(flagResultsJSON, rep); err != nil {
			return commandError("writing results", err)
		}
	}
	return report.WriteBench(cmd.OutOrStdout(), rep, flagBenchFormat)
}

func writeResultsJSON(path string, rep *runner.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteBench(f, rep, report.FormatJSON); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

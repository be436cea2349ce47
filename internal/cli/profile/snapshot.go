package profile

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DanielAmmar/gprofiler/internal/agent/profiler"
	"github.com/DanielAmmar/gprofiler/internal/cli/helpers"
)

type snapshotOptions struct {
	format    string
	outputDir string
	verbose   bool
}

// NewSnapshotCmd creates the snapshot command.
func NewSnapshotCmd() *cobra.Command {
	var (
		opts     Options
		snapOpts snapshotOptions
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Profile every running JVM once",
		Long: `Attach async-profiler to every discovered JVM, sample for the configured
duration and print the result.

Processes that cannot be profiled safely are skipped and reported on stderr.
Interrupting the command stops every profiler before exiting.

Examples:
  # Folded stacks of all JVMs, ready for flamegraph.pl
  gprofiler-agent snapshot --duration 30s | flamegraph.pl > java.svg

  # One pprof file per process
  gprofiler-agent snapshot --pid 4242 --format pprof --output-dir ./profiles

  # Per-process results as JSON
  gprofiler-agent snapshot --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(snapOpts.format, snapshotFormats); err != nil {
				return err
			}
			cfg, err := opts.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			supervisor, err := newSupervisor(cfg, logger, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Profiling Java processes for %s...\n", cfg.Profiler.Duration)
			return runSnapshot(ctx, supervisor, snapOpts, cfg.SamplingInterval(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	opts.AddFlags(cmd.Flags())
	helpers.AddFormatFlag(cmd, &snapOpts.format, formatFolded, snapshotFormats)
	helpers.AddVerboseFlag(cmd, &snapOpts.verbose)
	cmd.Flags().StringVar(&snapOpts.outputDir, "output-dir", ".", "Directory for pprof files")

	return cmd
}

// runSnapshot runs one cycle and writes it in the requested format.
func runSnapshot(ctx context.Context, s profiler.Snapshotter, opts snapshotOptions, period time.Duration, stdout, stderr io.Writer) error {
	result, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}

	printSummary(stderr, result)
	if opts.verbose {
		for _, pid := range result.PIDs() {
			if p := result.Processes[pid].Profile; p != nil {
				for _, leaf := range p.TopLeaves(5) {
					_, _ = fmt.Fprintf(stderr, "  pid %d: %5.1f%% %s\n", pid, leaf.Pct, leaf.Frame)
				}
			}
		}
	}

	switch format := helpers.OutputFormat(opts.format); format {
	case formatPprof:
		paths, err := writePprofFiles(opts.outputDir, result, period)
		for _, p := range paths {
			_, _ = fmt.Fprintln(stdout, p)
		}
		return err
	case helpers.FormatJSON, helpers.FormatYAML, helpers.FormatTable:
		return printStructured(stdout, result, format)
	default:
		return printFolded(stdout, result)
	}
}

package profile

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/DanielAmmar/gprofiler/internal/agent/asyncprof"
	"github.com/DanielAmmar/gprofiler/internal/agent/discovery"
	"github.com/DanielAmmar/gprofiler/internal/cli/helpers"
	"github.com/DanielAmmar/gprofiler/internal/config"
	apperrors "github.com/DanielAmmar/gprofiler/internal/errors"
	"github.com/DanielAmmar/gprofiler/internal/sys/proc"
)

type statusView struct {
	PID     int    `header:"PID" json:"pid" yaml:"pid"`
	Running bool   `header:"RUNNING" json:"running" yaml:"running"`
	Elapsed string `header:"ELAPSED" json:"elapsed,omitempty" yaml:"elapsed,omitempty"`
	Raw     string `json:"raw" yaml:"raw"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var (
		opts   Options
		format string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Ask a JVM whether async-profiler is running in it",
		Long: `Load the agent into the process given with --pid and issue the status command.

A profiler left running by a previous agent shows up here as running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.PIDs) != 1 {
				return fmt.Errorf("status needs exactly one --pid")
			}
			pid := opts.PIDs[0]
			cfg, err := opts.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			info, err := queryStatus(cmd.Context(), cfg, pid, logger)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), pid, info, helpers.OutputFormat(format))
		},
	}

	opts.AddFlags(cmd.Flags())
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
		helpers.FormatYAML,
	})

	return cmd
}

func queryStatus(ctx context.Context, cfg *config.Config, pid int, logger zerolog.Logger) (asyncprof.StatusInfo, error) {
	finder, err := discovery.NewFinder(cfg.DiscoveryConfig(), logger)
	if err != nil {
		return asyncprof.StatusInfo{}, err
	}
	p, err := finder.Inspect(ctx, pid)
	if err != nil {
		return asyncprof.StatusInfo{}, fmt.Errorf("failed to inspect process %d: %w", pid, err)
	}

	root, err := proc.OpenRoot(pid)
	if err != nil {
		return asyncprof.StatusInfo{}, err
	}
	defer apperrors.DeferClose(logger, root, "Failed to close process root")

	libPath, err := newInstaller(cfg, logger).Install(root.Path(), p.LibC())
	if err != nil {
		return asyncprof.StatusInfo{}, err
	}
	session, err := asyncprof.NewSession(
		asyncprof.Target{PID: pid, HostRoot: root.Path(), LibraryPath: libPath},
		asyncprof.NewJattachAgent(cfg.Java.JattachPath, logger),
		cfg.SessionConfig(),
		logger,
	)
	if err != nil {
		return asyncprof.StatusInfo{}, err
	}
	defer apperrors.DeferClose(logger, session, "Failed to clean up session")

	return session.Status(ctx)
}

func printStatus(w io.Writer, pid int, info asyncprof.StatusInfo, format helpers.OutputFormat) error {
	view := statusView{PID: pid, Running: info.Running, Raw: info.Raw}
	if info.Running {
		view.Elapsed = info.Elapsed.Round(time.Second).String()
	}
	formatter, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}
	if format == helpers.FormatTable {
		return formatter.Format([]statusView{view}, w)
	}
	return formatter.Format(view, w)
}

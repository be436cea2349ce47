package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DanielAmmar/gprofiler/internal/agent/profiler"
	"github.com/DanielAmmar/gprofiler/internal/constants"
	"github.com/DanielAmmar/gprofiler/pkg/version"
)

// NewRunCmd creates the continuous profiling command.
func NewRunCmd() *cobra.Command {
	var (
		opts         Options
		interval     time.Duration
		cycles       int
		outputDir    string
		outputFormat string
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Profile JVMs continuously",
		Long: `Run a profiling cycle every interval and store each cycle in the output
directory. Old cycles are removed after the configured retention.

SIGINT and SIGTERM stop the profilers attached at that moment, store the
partial cycle and exit.

Examples:
  gprofiler-agent run --interval 1m --output-dir /var/lib/gprofiler/profiles
  gprofiler-agent run --metrics-addr :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Profiler.Interval = interval
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Output.Dir = outputDir
			}
			if cmd.Flags().Changed("output-format") {
				cfg.Output.Format = outputFormat
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(cfg)
			logger.Info().Str("build", version.Summary()).Dur("interval", cfg.Profiler.Interval).Msg("Starting continuous profiling")
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			supervisor, err := newSupervisor(cfg, logger, reg)
			if err != nil {
				return err
			}
			sink, err := profiler.NewFileSink(cfg.Output.Dir, cfg.Output.Format, cfg.SamplingInterval(), logger)
			if err != nil {
				return err
			}
			runner, err := profiler.NewRunner(supervisor, sink, profiler.RunnerConfig{Interval: cfg.Profiler.Interval, Cycles: cycles}, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			runCtx, finish := context.WithCancel(ctx)
			defer finish()
			g.Go(func() error {
				// A finished run (--cycles) ends the other goroutines too.
				defer finish()
				if err := runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				sink.RunCleanupLoop(runCtx, cfg.Output.CleanupInterval, cfg.Output.Retention)
				return nil
			})
			if cfg.Metrics.Addr != "" {
				g.Go(func() error {
					return serveMetrics(runCtx, cfg.Metrics.Addr, reg, logger)
				})
			}
			return g.Wait()
		},
	}

	opts.AddFlags(cmd.Flags())
	cmd.Flags().DurationVar(&interval, "interval", constants.DefaultSnapshotInterval, "Time between cycle starts")
	cmd.Flags().IntVar(&cycles, "cycles", 0, "Stop after this many cycles (0 runs until interrupted)")
	cmd.Flags().StringVar(&outputDir, "output-dir", constants.DefaultOutputDir, "Directory storing the cycles")
	cmd.Flags().StringVar(&outputFormat, "output-format", profiler.FormatCollapsed, "Stored format: collapsed or pprof")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// serveMetrics serves /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	return nil
}

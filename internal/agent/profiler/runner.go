package profiler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Snapshotter runs one profiling cycle.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*SnapshotResult, error)
}

// Sink receives the result of every cycle.
type Sink interface {
	Write(ctx context.Context, result *SnapshotResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, result *SnapshotResult) error

// Write implements Sink.
func (f SinkFunc) Write(ctx context.Context, result *SnapshotResult) error { return f(ctx, result) }

// RunnerConfig controls continuous profiling.
type RunnerConfig struct {
	// Interval is the time between the starts of two cycles. A cycle that runs
	// longer is followed immediately by the next one.
	Interval time.Duration
	// Cycles stops the runner after this many cycles. Zero runs until cancelled.
	Cycles int
}

// Runner profiles continuously: one snapshot per interval, each handed to the sink.
type Runner struct {
	snapshotter Snapshotter
	sink        Sink
	config      RunnerConfig
	logger      zerolog.Logger
}

// NewRunner creates a continuous runner.
func NewRunner(snapshotter Snapshotter, sink Sink, config RunnerConfig, logger zerolog.Logger) (*Runner, error) {
	if snapshotter == nil || sink == nil {
		return nil, errors.New("runner needs a snapshotter and a sink")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("invalid snapshot interval %s", config.Interval)
	}
	return &Runner{
		snapshotter: snapshotter,
		sink:        sink,
		config:      config,
		logger:      logger.With().Str("component", "continuous_profiler").Logger(),
	}, nil
}

// Run profiles until ctx ends or the configured cycles are done. A failed cycle
// is logged and the loop goes on. It returns nil when the cycles completed and
// ctx.Err() on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("interval", r.config.Interval).
		Int("cycles", r.config.Cycles).
		Msg("Starting continuous Java profiling")

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for cycle := 1; ; cycle++ {
		r.collectAndStore(ctx, cycle)

		if r.config.Cycles > 0 && cycle >= r.config.Cycles {
			r.logger.Info().Int("cycles", cycle).Msg("Continuous Java profiling finished")
			return nil
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Stopping continuous Java profiling")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// collectAndStore runs one cycle and hands its result to the sink.
func (r *Runner) collectAndStore(ctx context.Context, cycle int) {
	result, err := r.snapshotter.Snapshot(ctx)
	if err != nil {
		r.logger.Error().Err(err).Int("cycle", cycle).Msg("Profiling cycle failed")
		return
	}

	failures := result.Failures()
	r.logger.Info().
		Int("cycle", cycle).
		Int("profiled", len(result.Profiles())).
		Int("failed", len(failures)).
		Dur("duration", result.End.Sub(result.Start)).
		Msg("Profiling cycle done")
	for _, f := range failures {
		r.logger.Debug().Int("pid", f.PID).Str("kind", string(f.Failure.Kind)).Str("reason", f.Failure.Reason).Msg("Process not profiled")
	}

	// The result is stored even when the cycle was cancelled midway.
	if err := r.sink.Write(context.WithoutCancel(ctx), result); err != nil {
		r.logger.Error().Err(err).Int("cycle", cycle).Msg("Failed to store profiling cycle")
	}
}

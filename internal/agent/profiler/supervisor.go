// Package profiler runs profiling cycles over the discovered JVMs: it gates each
// process through the safemode checks, drives one async-profiler session per
// process with bounded concurrency, and turns crashes into reports instead of
// lost cycles.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/DanielAmmar/gprofiler/internal/agent/asyncprof"
	"github.com/DanielAmmar/gprofiler/internal/agent/collapsed"
	"github.com/DanielAmmar/gprofiler/internal/agent/discovery"
	apperrors "github.com/DanielAmmar/gprofiler/internal/errors"
	"github.com/DanielAmmar/gprofiler/internal/jvm"
	"github.com/DanielAmmar/gprofiler/internal/jvm/crashlog"
	"github.com/DanielAmmar/gprofiler/internal/sys/proc"
)

// Config holds supervisor settings.
type Config struct {
	// Duration is how long each process is sampled per cycle.
	Duration time.Duration
	// Concurrency bounds the number of simultaneous sessions.
	Concurrency int
	// LivenessInterval is how often a profiled process is checked while sampling.
	LivenessInterval time.Duration
	// StopTimeout bounds cleanup commands issued after cancellation.
	StopTimeout time.Duration
	Session     asyncprof.Config
	Safemode    jvm.SafemodeConfig
	CrashSearch crashlog.SearchHints
}

func (c Config) withDefaults() Config {
	if c.Duration <= 0 {
		c.Duration = 60 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Session.StorageDir == "" {
		c.Session.StorageDir = asyncprof.DefaultStorageDir
	}
	c.Session.AgentSafemode = c.Safemode.AgentSafemode()
	return c
}

// ProcessRoot is an open handle on a process' root filesystem.
type ProcessRoot interface {
	// Path is a host path resolving to the root.
	Path() string
	FS() fs.FS
	Close() error
}

// RootOpener opens the root filesystem of pid.
type RootOpener func(pid int) (ProcessRoot, error)

// ProcRoots opens process roots through procfs.
func ProcRoots(pid int) (ProcessRoot, error) {
	return proc.OpenRoot(pid)
}

// Installer places the agent library inside a process root.
type Installer interface {
	Install(hostRoot string, libc discovery.LibC) (string, error)
}

// CrashLocator finds crash reports.
type CrashLocator interface {
	FindAndParse(ctx context.Context, target crashlog.Target, hints crashlog.SearchHints) (*crashlog.Report, error)
}

// Dependencies are the supervisor's collaborators.
type Dependencies struct {
	Finder discovery.Finder
	// Prober is required when version checks are enabled.
	Prober    discovery.VersionProber
	Agent     asyncprof.Agent
	Installer Installer
	Crashes   CrashLocator
	Liveness  discovery.Liveness
	// Roots defaults to ProcRoots.
	Roots   RootOpener
	Metrics *Metrics
	Logger  zerolog.Logger
}

// Supervisor runs profiling cycles.
type Supervisor struct {
	cfg  Config
	deps Dependencies

	logger zerolog.Logger
	// crashed is set once a profiled JVM crashed; with the hserr safemode
	// option no further process is attached.
	crashed atomic.Bool
}

// New creates a supervisor. It fails on an invalid safemode configuration or
// missing dependencies.
func New(cfg Config, deps Dependencies) (*Supervisor, error) {
	if err := cfg.Safemode.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Finder == nil:
		return nil, errors.New("profiler: finder is required")
	case deps.Agent == nil:
		return nil, errors.New("profiler: agent is required")
	case deps.Installer == nil:
		return nil, errors.New("profiler: library installer is required")
	case deps.Crashes == nil:
		return nil, errors.New("profiler: crash locator is required")
	case deps.Liveness == nil:
		return nil, errors.New("profiler: liveness checker is required")
	case cfg.Safemode.VersionChecks() && deps.Prober == nil:
		return nil, &jvm.ConfigurationError{Field: "version_checks", Message: "Java version checks need a version prober"}
	}
	if deps.Roots == nil {
		deps.Roots = ProcRoots
	}

	return &Supervisor{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: deps.Logger.With().Str("component", "supervisor").Logger(),
	}, nil
}

// Disabled reports whether attaching stopped after a JVM crash.
func (s *Supervisor) Disabled() bool {
	return s.crashed.Load() && s.cfg.Safemode.Has(jvm.OptionHSErr)
}

// Snapshot runs one profiling cycle over every discovered process.
//
// Per-process failures are recorded in the result, never returned. Cancelling
// ctx stops every open session, records the unfinished processes as cancelled
// and returns the partial result with a nil error. Only discovery failure is an
// error.
func (s *Supervisor) Snapshot(ctx context.Context) (*SnapshotResult, error) {
	result := newSnapshotResult(time.Now())

	procs, err := s.deps.Finder.FindProcesses(ctx)
	if err != nil {
		if ctx.Err() != nil {
			result.End = time.Now()
			return result, nil
		}
		return nil, fmt.Errorf("failed to discover processes: %w", err)
	}

	var mu sync.Mutex
	record := func(r *ProcessResult) {
		s.deps.Metrics.observeResult(r)
		mu.Lock()
		result.Processes[r.PID] = r
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, p := range procs {
		if ctx.Err() != nil {
			record(cancelled(p))
			continue
		}
		g.Go(func() error {
			record(s.profileProcess(ctx, p))
			return nil
		})
	}
	_ = g.Wait()

	result.End = time.Now()
	s.deps.Metrics.observeSnapshot(result, len(procs))
	return result, nil
}

func cancelled(p *discovery.Process) *ProcessResult {
	return &ProcessResult{
		PID:     p.PID,
		Comm:    p.Comm,
		Failure: &Failure{Kind: FailureCancelled, Reason: "snapshot cancelled", Err: context.Canceled},
	}
}

func failed(p *discovery.Process, kind FailureKind, err error) *ProcessResult {
	return &ProcessResult{PID: p.PID, Comm: p.Comm, Failure: &Failure{Kind: kind, Reason: err.Error(), Err: err}}
}

// gate runs the safemode checks. A non-nil error means the process is skipped.
func (s *Supervisor) gate(ctx context.Context, p *discovery.Process) error {
	if s.Disabled() {
		return errors.New("Java profiling is disabled after a previous JVM crash (hserr)")
	}
	sm := s.cfg.Safemode

	if sm.Has(jvm.OptionAPLoadedCheck) {
		ours := path.Join(s.cfg.Session.StorageDir, "async-profiler-")
		for _, m := range p.ModulesNamed(asyncprof.LibraryName) {
			if !strings.HasPrefix(m, ours) {
				return fmt.Errorf("a foreign async-profiler is already loaded from %s", m)
			}
		}
	}

	if !sm.VersionChecks() {
		return nil
	}
	v, err := s.deps.Prober.Probe(ctx, p)
	if err != nil {
		return err
	}
	return sm.Gate(v)
}

// profileProcess runs one session against p and never returns a nil result.
func (s *Supervisor) profileProcess(ctx context.Context, p *discovery.Process) *ProcessResult {
	logger := s.logger.With().Int("pid", p.PID).Str("comm", p.Comm).Logger()

	if err := s.gate(ctx, p); err != nil {
		if ctx.Err() != nil {
			return cancelled(p)
		}
		logger.Warn().Err(err).Msg("Skipping process")
		return failed(p, FailureSkipped, err)
	}

	root, err := s.deps.Roots(p.PID)
	if err != nil {
		return failed(p, FailureAttach, err)
	}
	defer apperrors.DeferClose(logger, root, "Failed to close process root")

	libPath, err := s.deps.Installer.Install(root.Path(), p.LibC())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to install async-profiler")
		return failed(p, FailureAttach, err)
	}

	session, err := asyncprof.NewSession(
		asyncprof.Target{PID: p.PID, HostRoot: root.Path(), LibraryPath: libPath},
		s.deps.Agent, s.cfg.Session, s.deps.Logger,
	)
	if err != nil {
		return failed(p, FailureAttach, err)
	}
	s.deps.Metrics.sessionOpened()
	defer func() {
		s.deps.Metrics.sessionClosed()
		if err := session.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to clean up session")
		}
	}()
	logger = logger.With().Str("session_id", session.ID()).Logger()

	r := &run{s: s, p: p, root: root, session: session, logger: logger}
	return r.profile(ctx)
}

// run is the state of one process' profiling within a snapshot.
type run struct {
	s       *Supervisor
	p       *discovery.Process
	root    ProcessRoot
	session *asyncprof.Session
	logger  zerolog.Logger
}

func (r *run) profile(ctx context.Context) *ProcessResult {
	if res := r.start(ctx); res != nil {
		return res
	}

	if res := r.wait(ctx); res != nil {
		return res
	}

	if err := r.session.Stop(ctx, true); err != nil {
		if !r.alive(ctx) {
			return r.crashed(ctx)
		}
		if ctx.Err() != nil {
			r.cleanup(ctx)
			return cancelled(r.p)
		}
		r.logger.Warn().Err(err).Msg("Failed to stop async-profiler")
		return failed(r.p, FailureAttach, err)
	}

	data, err := r.session.CollectOutput(ctx)
	if err != nil {
		var missing *asyncprof.OutputMissingError
		switch {
		case ctx.Err() != nil:
			r.cleanup(ctx)
			return cancelled(r.p)
		case !r.alive(ctx):
			return r.crashed(ctx)
		case errors.As(err, &missing):
			// A crash report means the process is on its way down.
			if res := r.crashReport(ctx); res != nil {
				return res
			}
			r.logger.Warn().Err(err).Msg("Async-profiler output missing")
			return failed(r.p, FailureOutputMissing, err)
		default:
			return failed(r.p, FailureOutputMissing, err)
		}
	}

	profile, err := collapsed.Parse(data)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Corrupt async-profiler output")
		return failed(r.p, FailureCorruptOutput, err)
	}

	r.logger.Info().
		Int("unique_stacks", profile.Len()).
		Int64("samples", profile.Total()).
		Msgf("Finished profiling process %d", r.p.PID)
	return &ProcessResult{PID: r.p.PID, Comm: r.p.Comm, Profile: profile}
}

// start starts the session, recovering once from a profiler left running by
// someone else. It returns nil when sampling is underway.
func (r *run) start(ctx context.Context) *ProcessResult {
	outcome, err := r.session.Start(ctx)
	if err == nil && outcome == asyncprof.StartAlreadyRunning {
		r.logger.Info().Msgf("Found async-profiler already started on %d, trying to stop it...", r.p.PID)
		if err = r.session.Stop(ctx, false); err == nil {
			outcome, err = r.session.Start(ctx)
		}
	}
	if err == nil && outcome == asyncprof.StartStarted {
		return nil
	}

	if ctx.Err() != nil {
		r.cleanup(ctx)
		return cancelled(r.p)
	}
	if !r.alive(ctx) {
		return r.crashed(ctx)
	}
	if err == nil {
		err = asyncprof.ErrAlreadyRunning
	}
	r.logger.Warn().Err(err).Msg("Failed to start async-profiler")
	return failed(r.p, FailureAttach, err)
}

// wait samples for the configured duration. It returns nil when the duration
// elapsed with the process alive.
func (r *run) wait(ctx context.Context) *ProcessResult {
	timer := time.NewTimer(r.s.cfg.Duration)
	defer timer.Stop()
	ticker := time.NewTicker(r.s.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.cleanup(ctx)
			return cancelled(r.p)
		case <-ticker.C:
			if !r.alive(ctx) {
				return r.crashed(ctx)
			}
		case <-timer.C:
			if !r.alive(ctx) {
				return r.crashed(ctx)
			}
			return nil
		}
	}
}

// cleanup stops the agent after cancellation with a detached, bounded context
// so the process is not left profiled. It also covers a start or stop that was
// cut off mid-flight. Sessions that never reached the agent are left alone.
func (r *run) cleanup(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.s.cfg.StopTimeout)
	defer cancel()
	err := r.session.Stop(stopCtx, false)
	var stateErr *asyncprof.StateError
	switch {
	case err == nil:
	case errors.As(err, &stateErr):
		r.logger.Debug().Stringer("state", stateErr.State).Msg("No profiler to stop after cancellation")
	default:
		r.logger.Warn().Err(err).Msg("Failed to stop async-profiler after cancellation")
	}
}

func (r *run) alive(ctx context.Context) bool {
	return r.s.deps.Liveness.Alive(context.WithoutCancel(ctx), r.p.Key())
}

// crashed records the death of the process while profiled.
func (r *run) crashed(ctx context.Context) *ProcessResult {
	r.session.MarkCrashed()
	if res := r.crashReport(ctx); res != nil {
		return res
	}
	r.logger.Warn().Msg("Process exited while profiled, no hotspot error log found")
	return failed(r.p, FailureExited, errors.New("process exited while profiled"))
}

// crashReport looks for a crash report and returns a crashed result if one exists.
func (r *run) crashReport(ctx context.Context) *ProcessResult {
	target := crashlog.Target{
		PID:     r.p.PID,
		NsPID:   r.p.NsPID,
		Cwd:     r.p.Cwd,
		Cmdline: r.p.Cmdline,
		Root:    r.root.FS(),
	}
	if r.p.CreateTime > 0 {
		target.Started = time.UnixMilli(r.p.CreateTime)
	}
	report, err := r.s.deps.Crashes.FindAndParse(context.WithoutCancel(ctx), target, r.s.cfg.CrashSearch)
	if err != nil {
		if !errors.Is(err, crashlog.ErrNotFound) {
			r.logger.Warn().Err(err).Msg("Failed to read hotspot error log")
		}
		return nil
	}

	r.session.MarkCrashed()
	r.s.crashed.Store(true)
	r.logger.Error().
		Str("path", report.Path).
		Str("signal", report.SignalName).
		Str("vm", report.VM).
		Strs("modules", report.Modules).
		Msg(report.Summary())
	if r.s.cfg.Safemode.Has(jvm.OptionHSErr) {
		r.logger.Warn().Msg("Disabling Java profiling for the rest of the run after a JVM crash")
	}

	return &ProcessResult{
		PID:     r.p.PID,
		Comm:    r.p.Comm,
		Failure: &Failure{Kind: FailureCrashed, Reason: report.Summary()},
		Crash:   report,
	}
}

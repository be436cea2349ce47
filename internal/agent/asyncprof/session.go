package asyncprof

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/DanielAmmar/gprofiler/internal/errors"
	"github.com/DanielAmmar/gprofiler/internal/safe"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateAlreadyRunning
	StateStopping
	StateStopped
	StateCrashed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateAlreadyRunning:
		return "already-running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StartOutcome is the result of a start that did not fail.
type StartOutcome int

const (
	// StartStarted means this session's profiler is now running.
	StartStarted StartOutcome = iota
	// StartAlreadyRunning means another profiler was active; Stop then Start again.
	StartAlreadyRunning
)

// Defaults for Config fields left zero.
const (
	DefaultStorageDir     = "/tmp/gprofiler_tmp"
	DefaultMode           = "cpu"
	DefaultInterval       = 10 * time.Millisecond
	DefaultFrameBuffer    = 2_000_000
	DefaultCommandTimeout = 10 * time.Second
	DefaultOutputTimeout  = 10 * time.Second
	DefaultMaxOutputSize  = 256 << 20
)

// Config controls how a session talks to the agent.
type Config struct {
	// StorageDir is the directory, as seen by the target process, that holds
	// session directories. It must be writable by the target.
	StorageDir string
	// Mode is the sampling event: cpu, itimer, wall, alloc.
	Mode string
	// Interval is the sampling interval.
	Interval    time.Duration
	FrameBuffer int
	// FDTransfer makes the agent request perf fds from a helper instead of
	// opening them itself.
	FDTransfer bool
	// AgentSafemode is the agent's stack-walking safemode bitmask.
	AgentSafemode int
	// AgentTimeout makes the agent stop on its own after this long, so an
	// orphaned profiler does not keep running. Zero disables it.
	AgentTimeout time.Duration
	// CommandTimeout bounds every agent command.
	CommandTimeout time.Duration
	// OutputTimeout bounds the wait for the output file after stop.
	OutputTimeout time.Duration
	MaxOutputSize int64
	Sentinels     SentinelTable
}

func (c Config) withDefaults() Config {
	if c.StorageDir == "" {
		c.StorageDir = DefaultStorageDir
	}
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = DefaultFrameBuffer
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.OutputTimeout <= 0 {
		c.OutputTimeout = DefaultOutputTimeout
	}
	if c.MaxOutputSize <= 0 {
		c.MaxOutputSize = DefaultMaxOutputSize
	}
	if c.Sentinels.AlreadyStarted == "" {
		c.Sentinels = DefaultSentinels
	}
	return c
}

// Target identifies the process a session attaches to.
type Target struct {
	PID int
	// HostRoot is a host path that resolves to the process' root directory,
	// typically /proc/<pid>/root or an open handle on it.
	HostRoot string
	// LibraryPath is the agent library path inside the process' root.
	LibraryPath string
}

// Session is one profiling session against one process. A Session is owned by a
// single goroutine; only State and MarkCrashed may be called concurrently.
type Session struct {
	id     string
	target Target
	cfg    Config
	agent  Agent
	logger zerolog.Logger

	// dir is the session directory as seen by the target process.
	dir string

	mu          sync.Mutex
	state       State
	recovering  bool
	stopWritten bool
	// interrupted is set when a start or stop failed in transit, so the agent
	// may still be sampling.
	interrupted bool
	closed      bool
}

// NewSession creates the session directory and returns an idle session.
func NewSession(target Target, agent Agent, cfg Config, logger zerolog.Logger) (*Session, error) {
	cfg = cfg.withDefaults()
	id := uuid.New().String()[:8]
	s := &Session{
		id:     id,
		target: target,
		cfg:    cfg,
		agent:  agent,
		dir:    path.Join(cfg.StorageDir, fmt.Sprintf("async-profiler-%d-%s", target.PID, id)),
		logger: logger.With().
			Str("component", "asyncprof").
			Int("pid", target.PID).
			Str("session_id", id).
			Logger(),
	}

	hostDir := s.hostPath(s.dir)
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	// The target JVM may run as another user and must be able to write here.
	// #nosec G302 - the agent inside the target process writes into this directory.
	if err := os.Chmod(hostDir, 0o777); err != nil {
		apperrors.DeferRemoveAll(s.logger, hostDir)
		return nil, fmt.Errorf("failed to chmod session directory: %w", err)
	}
	return s, nil
}

// ID returns the session's unique suffix.
func (s *Session) ID() string { return s.id }

// PID returns the target pid.
func (s *Session) PID() int { return s.target.PID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dir returns the host path of the session directory.
func (s *Session) Dir() string { return s.hostPath(s.dir) }

// OutputPath returns the output file path as seen by the target process.
func (s *Session) OutputPath() string {
	return path.Join(s.dir, "async-profiler-"+strconv.Itoa(s.target.PID)+".output")
}

// LogPath returns the agent log path as seen by the target process.
func (s *Session) LogPath() string {
	return path.Join(s.dir, "async-profiler-"+strconv.Itoa(s.target.PID)+".log")
}

func (s *Session) hostPath(processPath string) string {
	return filepath.Join(s.target.HostRoot, filepath.FromSlash(processPath))
}

// fail moves to Failed after a command error. A transport error leaves the
// agent state unknown.
func (s *Session) fail(inTransit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inTransit {
		s.interrupted = true
	}
	if s.state != StateCrashed {
		s.state = StateFailed
	}
}

// setState moves to a result state unless the session crashed meanwhile.
func (s *Session) setState(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCrashed {
		s.state = to
	}
}

func (s *Session) startCommand() *Command {
	cmd := NewCommand(ActionStart).
		With("event", s.cfg.Mode).
		With("file", s.OutputPath()).
		Flag("collapsed").
		Flag("ann").
		Flag("sig").
		With("interval", strconv.FormatInt(s.cfg.Interval.Nanoseconds(), 10)).
		With("framebuf", strconv.Itoa(s.cfg.FrameBuffer)).
		With("log", s.LogPath())
	if s.cfg.FDTransfer {
		cmd.Flag("fdtransfer")
	}
	cmd.With("safemode", strconv.Itoa(s.cfg.AgentSafemode))
	if s.cfg.AgentTimeout > 0 {
		cmd.With("timeout", strconv.Itoa(int(s.cfg.AgentTimeout.Seconds())))
	}
	return cmd
}

func (s *Session) stopCommand(withOutput bool) *Command {
	cmd := NewCommand(ActionStop)
	if withOutput {
		cmd.With("file", s.OutputPath()).Flag("collapsed").Flag("ann").Flag("sig")
	}
	return cmd.With("log", s.LogPath())
}

// execute runs cmd under the command timeout and returns the response with the
// agent log written for it. The log file is consumed.
func (s *Session) execute(ctx context.Context, cmd *Command) (Response, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	resp, err := s.agent.Execute(ctx, Request{PID: s.target.PID, LibraryPath: s.target.LibraryPath, Command: cmd})
	log := s.consumeLog()
	if err != nil {
		return resp, log, &AttachError{PID: s.target.PID, Action: cmd.Action, ExitCode: resp.ExitCode, Log: log, Err: err}
	}
	return resp, log, nil
}

func (s *Session) consumeLog() string {
	logPath := s.hostPath(s.LogPath())
	data, err := safe.ReadFile(logPath, nil)
	if err != nil {
		return ""
	}
	safe.RemovePath(logPath, s.logger)
	return string(data)
}

// Start starts the profiler. Starting is allowed from Idle, and once from
// Stopped after an already-running conflict was resolved.
func (s *Session) Start(ctx context.Context) (StartOutcome, error) {
	s.mu.Lock()
	allowed := !s.closed && (s.state == StateIdle || (s.state == StateStopped && s.recovering))
	current := s.state
	if allowed {
		s.state = StateStarting
		s.stopWritten = false
	}
	s.mu.Unlock()
	if !allowed {
		return 0, &StateError{Op: "start", State: current}
	}

	resp, log, err := s.execute(ctx, s.startCommand())
	if err != nil {
		s.fail(true)
		return 0, err
	}

	if s.cfg.Sentinels.IsAlreadyStarted(resp, log) {
		s.mu.Lock()
		if s.recovering {
			// The profiler we just stopped is back, or never stopped.
			s.state = StateFailed
			s.mu.Unlock()
			return 0, &AttachError{PID: s.target.PID, Action: ActionStart, ExitCode: resp.ExitCode, Log: log, Err: ErrAlreadyRunning}
		}
		s.recovering = true
		if s.state != StateCrashed {
			s.state = StateAlreadyRunning
		}
		s.mu.Unlock()
		return StartAlreadyRunning, nil
	}

	if resp.ExitCode != 0 {
		s.setState(StateFailed)
		return 0, &AttachError{PID: s.target.PID, Action: ActionStart, ExitCode: resp.ExitCode, Log: log + resp.Output}
	}

	s.mu.Lock()
	s.recovering = false
	if s.state != StateCrashed {
		s.state = StateRunning
	}
	s.mu.Unlock()
	s.logger.Debug().Str("mode", s.cfg.Mode).Dur("interval", s.cfg.Interval).Msg("Started async-profiler")
	return StartStarted, nil
}

// Status asks the agent whether a profiler is running.
func (s *Session) Status(ctx context.Context) (StatusInfo, error) {
	s.mu.Lock()
	current, closed := s.state, s.closed
	s.mu.Unlock()
	if closed || current == StateCrashed || current == StateStopping || current == StateStarting {
		return StatusInfo{}, &StateError{Op: "query status of", State: current}
	}

	// The status answer goes to its own file so it never mixes with profile output.
	statusPath := path.Join(s.dir, "async-profiler-"+strconv.Itoa(s.target.PID)+".status")
	cmd := NewCommand(ActionStatus).With("log", s.LogPath()).With("file", statusPath)
	resp, log, err := s.execute(ctx, cmd)
	if err != nil {
		return StatusInfo{}, err
	}

	hostStatus := s.hostPath(statusPath)
	defer safe.RemovePath(hostStatus, s.logger)
	data, readErr := safe.ReadFile(hostStatus, nil)
	answer := string(data)
	if readErr != nil {
		answer = resp.Output
	}
	if s.cfg.Sentinels.IsNotActive(resp, log) {
		return StatusInfo{Raw: log}, nil
	}
	if resp.ExitCode != 0 {
		return StatusInfo{}, &AttachError{PID: s.target.PID, Action: ActionStatus, ExitCode: resp.ExitCode, Log: log}
	}
	return s.cfg.Sentinels.ParseStatus(answer)
}

// Stop stops the profiler, dumping collapsed output when withOutput is set.
// Stopping a stopped session is a no-op. A session that failed because a
// command was interrupted in transit may be stopped too.
func (s *Session) Stop(ctx context.Context, withOutput bool) error {
	s.mu.Lock()
	current, closed := s.state, s.closed
	switch {
	case closed:
	case current == StateStopped:
		s.mu.Unlock()
		return nil
	case current == StateRunning || current == StateAlreadyRunning || (current == StateFailed && s.interrupted):
		s.state = StateStopping
		s.mu.Unlock()
		return s.stop(ctx, withOutput)
	}
	s.mu.Unlock()
	return &StateError{Op: "stop", State: current}
}

func (s *Session) stop(ctx context.Context, withOutput bool) error {
	resp, log, err := s.execute(ctx, s.stopCommand(withOutput))
	if err != nil {
		s.fail(true)
		return err
	}
	if resp.ExitCode != 0 {
		if s.cfg.Sentinels.IsNotActive(resp, log) {
			s.logger.Debug().Msg("Profiler was not active at stop")
			s.mu.Lock()
			s.interrupted = false
			if s.state != StateCrashed {
				s.state = StateStopped
			}
			s.mu.Unlock()
			return nil
		}
		s.setState(StateFailed)
		return &AttachError{PID: s.target.PID, Action: ActionStop, ExitCode: resp.ExitCode, Log: log + resp.Output}
	}

	s.mu.Lock()
	s.stopWritten = withOutput
	s.interrupted = false
	if s.state != StateCrashed {
		s.state = StateStopped
	}
	s.mu.Unlock()
	return nil
}

// CollectOutput waits for the output written by the last stop and returns it.
// The output file is removed once read.
func (s *Session) CollectOutput(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	current, written, closed := s.state, s.stopWritten, s.closed
	s.mu.Unlock()
	if closed || current != StateStopped || !written {
		return nil, &StateError{Op: "collect output of", State: current}
	}

	processPath := s.OutputPath()
	hostPath := s.hostPath(processPath)
	found, err := waitForFile(ctx, hostPath, s.cfg.OutputTimeout, s.logger)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &OutputMissingError{Path: processPath}
	}
	if err := waitForStableSize(ctx, hostPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &OutputMissingError{Path: processPath}
		}
		return nil, err
	}

	data, err := safe.ReadFile(hostPath, &safe.FileOptions{MaxSize: s.cfg.MaxOutputSize})
	if err != nil {
		return nil, fmt.Errorf("failed to read async-profiler output: %w", err)
	}
	safe.RemovePath(hostPath, s.logger)
	return data, nil
}

// MarkCrashed records that the target process died while profiled.
func (s *Session) MarkCrashed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.state = StateCrashed
	}
}

// Close removes the session directory. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := os.RemoveAll(s.Dir()); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}
	return nil
}

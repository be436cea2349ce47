package asyncprof_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielAmmar/gprofiler/internal/agent/asyncprof"
	"github.com/DanielAmmar/gprofiler/internal/agent/asyncprof/asyncproftest"
	"github.com/DanielAmmar/gprofiler/internal/testutil"
)

const testPID = 4242

func newSession(t *testing.T, agent *asyncproftest.Agent, cfg asyncprof.Config) *asyncprof.Session {
	t.Helper()
	if cfg.StorageDir == "" {
		cfg.StorageDir = "/tmp/gprofiler_tmp"
	}
	s, err := asyncprof.NewSession(
		asyncprof.Target{PID: testPID, HostRoot: agent.Root, LibraryPath: "/tmp/gprofiler_tmp/libasyncProfiler.so"},
		agent, cfg, testutil.NewTestLogger(t),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_Lifecycle(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s := newSession(t, agent, asyncprof.Config{AgentSafemode: 127, AgentTimeout: 2 * time.Minute})

	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o777), info.Mode().Perm())
	assert.True(t, strings.HasPrefix(filepath.Base(s.Dir()), "async-profiler-4242-"))
	assert.Equal(t, asyncprof.StateIdle, s.State())

	outcome, err := s.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, asyncprof.StartStarted, outcome)
	assert.Equal(t, asyncprof.StateRunning, s.State())
	assert.True(t, agent.Running(testPID))

	require.NoError(t, s.Stop(ctx, true))
	assert.Equal(t, asyncprof.StateStopped, s.State())

	data, err := s.CollectOutput(ctx)
	require.NoError(t, err)
	assert.Equal(t, asyncproftest.DefaultOutput, string(data))

	_, err = os.Stat(filepath.Join(agent.Root, s.OutputPath()))
	assert.True(t, os.IsNotExist(err), "output is consumed")
	_, err = os.Stat(filepath.Join(agent.Root, s.LogPath()))
	assert.True(t, os.IsNotExist(err), "log is consumed")

	require.NoError(t, s.Close())
	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, s.Close())
}

func TestSession_StartCommand(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s := newSession(t, agent, asyncprof.Config{
		Mode:          "itimer",
		Interval:      5 * time.Millisecond,
		FDTransfer:    true,
		AgentSafemode: 127,
		AgentTimeout:  90 * time.Second,
	})

	_, err := s.Start(ctx)
	require.NoError(t, err)

	requests := agent.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "/tmp/gprofiler_tmp/libasyncProfiler.so", requests[0].LibraryPath)
	want := "start,event=itimer,file=" + s.OutputPath() + ",collapsed,ann,sig,interval=5000000,framebuf=2000000,log=" +
		s.LogPath() + ",fdtransfer,safemode=127,timeout=90"
	assert.Equal(t, want, requests[0].Command.String())
}

func TestSession_AlreadyRunningRestart(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	agent.StartForeign(testPID)
	s := newSession(t, agent, asyncprof.Config{})

	outcome, err := s.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, asyncprof.StartAlreadyRunning, outcome)
	assert.Equal(t, asyncprof.StateAlreadyRunning, s.State())

	require.NoError(t, s.Stop(ctx, false))
	assert.Equal(t, asyncprof.StateStopped, s.State())
	_, err = s.CollectOutput(ctx)
	var stateErr *asyncprof.StateError
	require.ErrorAs(t, err, &stateErr, "a stop without output has nothing to collect")

	outcome, err = s.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, asyncprof.StartStarted, outcome)
	assert.Equal(t, asyncprof.StateRunning, s.State())

	require.NoError(t, s.Stop(ctx, true))
	data, err := s.CollectOutput(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	assert.Equal(t, []asyncprof.Action{
		asyncprof.ActionStart, asyncprof.ActionStop, asyncprof.ActionStart, asyncprof.ActionStop,
	}, agent.Actions(testPID))

	_, err = s.Start(ctx)
	require.ErrorAs(t, err, &stateErr, "a completed session cannot start again")
}

func TestSession_AlreadyRunningTwice(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	agent.StickyForeign = map[int]bool{testPID: true}
	agent.StartForeign(testPID)
	s := newSession(t, agent, asyncprof.Config{})

	outcome, err := s.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, asyncprof.StartAlreadyRunning, outcome)
	require.NoError(t, s.Stop(ctx, false))

	_, err = s.Start(ctx)
	var attachErr *asyncprof.AttachError
	require.ErrorAs(t, err, &attachErr)
	assert.ErrorIs(t, err, asyncprof.ErrAlreadyRunning)
	assert.Equal(t, asyncprof.StateFailed, s.State())
}

func TestSession_StopIsIdempotent(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s := newSession(t, agent, asyncprof.Config{})

	_, err := s.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx, true))
	require.NoError(t, s.Stop(ctx, true))

	assert.Equal(t, []asyncprof.Action{asyncprof.ActionStart, asyncprof.ActionStop}, agent.Actions(testPID))
}

func TestSession_StopWhenAgentNotActive(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s := newSession(t, agent, asyncprof.Config{})
	_, err := s.Start(ctx)
	require.NoError(t, err)

	// Another session stops our profiler behind our back.
	other := newSession(t, agent, asyncprof.Config{})
	outcome, err := other.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, asyncprof.StartAlreadyRunning, outcome)
	require.NoError(t, other.Stop(ctx, false))

	require.NoError(t, s.Stop(ctx, true))
	assert.Equal(t, asyncprof.StateStopped, s.State())
}

func TestSession_OutputMissing(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	agent.NoOutput = map[int]bool{testPID: true}
	s := newSession(t, agent, asyncprof.Config{OutputTimeout: 200 * time.Millisecond})

	_, err := s.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx, true))

	_, err = s.CollectOutput(ctx)
	var missing *asyncprof.OutputMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, s.OutputPath(), missing.Path)
}

func TestSession_StartFailure(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	agent.StartExitCodes = map[int]int{testPID: 1}
	s := newSession(t, agent, asyncprof.Config{})

	_, err := s.Start(ctx)
	var attachErr *asyncprof.AttachError
	require.ErrorAs(t, err, &attachErr)
	assert.Equal(t, 1, attachErr.ExitCode)
	assert.Contains(t, attachErr.Log, "Could not start profiler")
	assert.Equal(t, asyncprof.StateFailed, s.State())
}

func TestSession_TransportFailure(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	agent.Errors = map[int]error{testPID: errors.New("no such process")}
	s := newSession(t, agent, asyncprof.Config{})

	_, err := s.Start(ctx)
	var attachErr *asyncprof.AttachError
	require.ErrorAs(t, err, &attachErr)
	assert.Contains(t, err.Error(), "no such process")
}

func TestSession_CommandTimeout(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	agent.Block = map[int]bool{testPID: true}
	s := newSession(t, agent, asyncprof.Config{CommandTimeout: 50 * time.Millisecond})

	_, err := s.Start(ctx)
	var attachErr *asyncprof.AttachError
	require.ErrorAs(t, err, &attachErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, asyncprof.StateFailed, s.State())

	// The agent may have seen the start, so the session can still be stopped.
	agent.Block[testPID] = false
	require.NoError(t, s.Stop(ctx, false))
	assert.Equal(t, asyncprof.StateStopped, s.State())
}

// lostReplyAgent starts the profiler but reports a transport error, as when
// the reply is lost.
type lostReplyAgent struct {
	*asyncproftest.Agent
}

func (a lostReplyAgent) Execute(ctx context.Context, req asyncprof.Request) (asyncprof.Response, error) {
	resp, err := a.Agent.Execute(ctx, req)
	if err == nil && req.Command.Action == asyncprof.ActionStart {
		return asyncprof.Response{}, context.Canceled
	}
	return resp, err
}

func TestSession_StopAfterInterruptedStart(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s, err := asyncprof.NewSession(
		asyncprof.Target{PID: testPID, HostRoot: agent.Root, LibraryPath: "/tmp/gprofiler_tmp/libasyncProfiler.so"},
		lostReplyAgent{agent}, asyncprof.Config{StorageDir: "/tmp/gprofiler_tmp"}, testutil.NewTestLogger(t),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Start(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, asyncprof.StateFailed, s.State())
	require.True(t, agent.Running(testPID))

	require.NoError(t, s.Stop(ctx, false))
	assert.Equal(t, asyncprof.StateStopped, s.State())
	assert.False(t, agent.Running(testPID))
}

func TestSession_StopAfterRejectedStart(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	agent.StartExitCodes = map[int]int{testPID: 1}
	s := newSession(t, agent, asyncprof.Config{})

	_, err := s.Start(ctx)
	require.Error(t, err)

	var stateErr *asyncprof.StateError
	require.ErrorAs(t, s.Stop(ctx, false), &stateErr)
	assert.Equal(t, asyncprof.StateFailed, stateErr.State)
	assert.Equal(t, []asyncprof.Action{asyncprof.ActionStart}, agent.Actions(testPID))
}

func TestSession_IllegalTransitions(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s := newSession(t, agent, asyncprof.Config{})
	var stateErr *asyncprof.StateError

	require.ErrorAs(t, s.Stop(ctx, true), &stateErr)
	_, err := s.CollectOutput(ctx)
	require.ErrorAs(t, err, &stateErr)

	_, err = s.Start(ctx)
	require.NoError(t, err)
	_, err = s.Start(ctx)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, asyncprof.StateRunning, stateErr.State)
	_, err = s.CollectOutput(ctx)
	require.ErrorAs(t, err, &stateErr)
}

func TestSession_MarkCrashed(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s := newSession(t, agent, asyncprof.Config{})

	_, err := s.Start(ctx)
	require.NoError(t, err)
	s.MarkCrashed()
	assert.Equal(t, asyncprof.StateCrashed, s.State())

	var stateErr *asyncprof.StateError
	require.ErrorAs(t, s.Stop(ctx, true), &stateErr)
	_, err = s.Status(ctx)
	require.ErrorAs(t, err, &stateErr)

	require.NoError(t, s.Close())
	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestSession_Status(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s := newSession(t, agent, asyncprof.Config{})

	info, err := s.Status(ctx)
	require.NoError(t, err)
	assert.False(t, info.Running)

	_, err = s.Start(ctx)
	require.NoError(t, err)
	info, err = s.Status(ctx)
	require.NoError(t, err)
	assert.True(t, info.Running)
	assert.Equal(t, 3*time.Second, info.Elapsed)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "status leaves no files behind")
}

func TestSession_ClosedSessionRejectsCommands(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	agent := asyncproftest.New(t.TempDir())
	s := newSession(t, agent, asyncprof.Config{})
	require.NoError(t, s.Close())

	_, err := s.Start(ctx)
	var stateErr *asyncprof.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Empty(t, agent.Requests())
}

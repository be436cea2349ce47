package discovery

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielAmmar/gprofiler/internal/jvm"
	"github.com/DanielAmmar/gprofiler/internal/testutil"
)

func TestProcess_LibC(t *testing.T) {
	glibc := &Process{Modules: []string{"/usr/lib/jvm/bin/java", "/lib/x86_64-linux-gnu/libc-2.31.so"}}
	musl := &Process{Modules: []string{"/opt/java/bin/java", "/lib/ld-musl-x86_64.so.1"}}

	assert.Equal(t, LibCGlibc, glibc.LibC())
	assert.Equal(t, LibCMusl, musl.LibC())
	assert.Equal(t, LibCGlibc, (&Process{}).LibC())
}

func TestProcess_ModulesNamed(t *testing.T) {
	p := &Process{Modules: []string{
		"/usr/lib/jvm/lib/server/libjvm.so",
		"/opt/other/libasyncProfiler.so",
		"/tmp/gprofiler_tmp/async-profiler-00ff/libasyncProfiler.so",
	}}

	assert.Len(t, p.ModulesNamed("libasyncProfiler"), 2)
	assert.Empty(t, p.ModulesNamed("libpthread"))
	assert.Equal(t, Key{PID: 0, CreateTime: 0}, p.Key())
}

func TestNewFinder_InvalidPattern(t *testing.T) {
	_, err := NewFinder(Config{NamePattern: "("}, testutil.NewTestLogger(t))
	assert.ErrorContains(t, err, "invalid process name pattern")
}

func TestProcFinder_SkipsSelf(t *testing.T) {
	finder, err := NewFinder(Config{PIDs: []int{os.Getpid(), os.Getpid()}, NamePattern: ".*"}, testutil.NewTestLogger(t))
	require.NoError(t, err)

	procs, err := finder.FindProcesses(testutil.NewTestContext(t))
	require.NoError(t, err)
	assert.Empty(t, procs)
}

func TestProcFinder_Inspect(t *testing.T) {
	finder, err := NewFinder(Config{}, testutil.NewTestLogger(t))
	require.NoError(t, err)

	p, err := finder.Inspect(testutil.NewTestContext(t), os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), p.PID)
	assert.NotEmpty(t, p.Comm)
	assert.NotEmpty(t, p.Cmdline)
	assert.Positive(t, p.CreateTime)
	assert.NotZero(t, p.NsPID)
}

func TestProcLiveness(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	finder, err := NewFinder(Config{}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	self, err := finder.Inspect(ctx, os.Getpid())
	require.NoError(t, err)

	var live ProcLiveness
	assert.True(t, live.Alive(ctx, self.Key()))
	assert.True(t, live.Alive(ctx, Key{PID: self.PID}))
	assert.False(t, live.Alive(ctx, Key{PID: self.PID, CreateTime: self.CreateTime + 1000}), "pid reuse")
	assert.False(t, live.Alive(ctx, Key{PID: -1}))
}

type countingProber struct {
	calls atomic.Int32
	err   error
}

func (c *countingProber) Probe(_ context.Context, p *Process) (jvm.JVMVersion, error) {
	c.calls.Add(1)
	if c.err != nil {
		return jvm.JVMVersion{}, c.err
	}
	return jvm.JVMVersion{Version: jvm.NewVersion(11, 0, 8, 10), VMType: jvm.VMHotSpot}, nil
}

func TestCachedProber(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	next := &countingProber{}
	cached, err := NewCachedProber(next, 2)
	require.NoError(t, err)

	p := &Process{PID: 10, CreateTime: 1}
	for i := 0; i < 3; i++ {
		v, err := cached.Probe(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, 11, v.Version.Major)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	// Same pid, new process.
	_, err = cached.Probe(ctx, &Process{PID: 10, CreateTime: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())

	failing := &countingProber{err: errors.New("boom")}
	cachedFailing, err := NewCachedProber(failing, 0)
	require.NoError(t, err)
	_, err = cachedFailing.Probe(ctx, p)
	require.Error(t, err)
	_, err = cachedFailing.Probe(ctx, p)
	require.Error(t, err)
	assert.Equal(t, int32(2), failing.calls.Load(), "failures are retried")
}

func TestExecProber(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	var gotName string
	var gotArgs []string
	prober := NewExecProber("/usr/bin/nsenter", testutil.NewTestLogger(t))
	prober.Run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte("openjdk version \"1.8.0_282\"\nOpenJDK Runtime Environment (build 1.8.0_282-b08)\nOpenJDK 64-Bit Server VM (build 25.282-b08, mixed mode)\n"), nil
	}

	v, err := prober.Probe(ctx, &Process{PID: 77, Exe: "/usr/lib/jvm/bin/java"})
	require.NoError(t, err)
	assert.Equal(t, jvm.NewVersion(8, 282, 0, 8), v.Version)
	assert.Equal(t, "/usr/bin/nsenter", gotName)
	assert.Equal(t, []string{"-t", "77", "-m", "-p", "--", "/usr/lib/jvm/bin/java", "-version"}, gotArgs)

	prober.NsEnter = ""
	_, err = prober.Probe(ctx, &Process{PID: 77})
	require.NoError(t, err)
	assert.Equal(t, "/proc/77/exe", gotName)
	assert.Equal(t, []string{"-version"}, gotArgs)

	prober.Run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}
	_, err = prober.Probe(ctx, &Process{PID: 77})
	assert.ErrorContains(t, err, "failed to run java -version for pid 77")
}

package crashlog

import (
	"context"
	"math"
	"os"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielAmmar/gprofiler/internal/testutil"
)

func loadFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/hs_err_sigbus.log")
	require.NoError(t, err)
	return data
}

func TestParse_SigbusReport(t *testing.T) {
	report, err := Parse(loadFixture(t), "/tmp/hs_err_pid1.log")
	require.NoError(t, err)

	assert.Equal(t, "SIGBUS", report.SignalName)
	assert.Equal(t, 7, report.SignalNumber)
	assert.Equal(t, "0x00007f8b3c0d21e0", report.PC)
	assert.Contains(t, report.Vendor, "OpenJDK Runtime Environment")
	assert.Contains(t, report.VM, "OpenJDK 64-Bit Server VM")
	assert.Equal(t, "C  [libpthread.so.0+0x10fd0]  pthread_cond_timedwait+0x1c0", report.ProblematicFrame)
	assert.Len(t, report.NativeFrames, 5)

	assert.Equal(t, []string{
		"/lib/x86_64-linux-gnu/libpthread-2.31.so",
		"/tmp/gprofiler_tmp/async-profiler-1a2b3c4d/libasyncProfiler.so",
		"/usr/local/openjdk-11/bin/java",
		"/usr/local/openjdk-11/lib/server/libjvm.so",
	}, report.Modules)
	assert.True(t, report.HasModule("libpthread"))
	assert.True(t, report.HasModule("libasyncProfiler.so"))
	assert.False(t, report.HasModule("libc.so"))

	assert.True(t, report.HasMemoryUsage)
	assert.Equal(t, int64(53923840), report.MemoryUsageBytes)
	assert.False(t, report.HasMemoryLimit, "unlimited is not a figure")
	assert.Equal(t, "cgroupv1", report.ContainerType)
	assert.Contains(t, report.VMInfo, "built on Jul 14 2020")
}

func TestParse_PartialReports(t *testing.T) {
	t.Run("siginfo only", func(t *testing.T) {
		report, err := Parse([]byte("siginfo: si_signo: 11 (SIGSEGV), si_code: 1 (SEGV_MAPERR)\n"), "x")
		require.NoError(t, err)
		assert.Equal(t, "SIGSEGV", report.SignalName)
		assert.Equal(t, 11, report.SignalNumber)
		assert.Empty(t, report.Modules)
		assert.False(t, report.HasMemoryUsage)
	})

	t.Run("header without signal", func(t *testing.T) {
		report, err := Parse([]byte("# JRE version: OpenJDK Runtime Environment (17.0.1+12)\n"), "x")
		require.NoError(t, err)
		assert.Empty(t, report.SignalName)
		assert.Contains(t, report.Vendor, "17.0.1")
	})

	t.Run("over-long line is tolerated", func(t *testing.T) {
		data := "jvm_args: -Dpadding=" + strings.Repeat("x", 2<<20) + "\n" +
			"siginfo: si_signo: 11 (SIGSEGV), si_code: 1 (SEGV_MAPERR)\n"
		report, err := Parse([]byte(data), "x")
		require.NoError(t, err)
		assert.Equal(t, "SIGSEGV", report.SignalName)
	})

	t.Run("not a report", func(t *testing.T) {
		_, err := Parse([]byte("hello world\n"), "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReport_Summary(t *testing.T) {
	report, err := Parse(loadFixture(t), "/tmp/hs_err_pid1.log")
	require.NoError(t, err)
	report.PID = 4321

	summary := report.Summary()
	assert.Contains(t, summary, "pid 4321 crashed with SIGBUS (7)")
	assert.Contains(t, summary, "OpenJDK")
	assert.Contains(t, summary, "libpthread.so")
	assert.Contains(t, summary, "4 modules loaded")
	assert.Contains(t, summary, "memory_usage_in_bytes: 53923840")
}

func TestReport_SignalFromName(t *testing.T) {
	r := &Report{SignalName: "SIGSEGV"}
	name, num := r.Signal()
	assert.Equal(t, "SIGSEGV", name)
	assert.Equal(t, 11, num)
}

func TestCandidatePaths(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		hints  SearchHints
		want   []string
	}{
		{
			name:   "default locations",
			target: Target{PID: 4321, NsPID: 1, Cwd: "/app"},
			want:   []string{"/app/hs_err_pid1.log", "/tmp/hs_err_pid1.log"},
		},
		{
			name:   "custom error file",
			target: Target{PID: 4321, NsPID: 1, Cwd: "/app", Cmdline: []string{"java", "-XX:ErrorFile=/tmp/my_custom_error_file.log", "Fibonacci"}},
			want:   []string{"/tmp/my_custom_error_file.log", "/app/hs_err_pid1.log", "/tmp/hs_err_pid1.log"},
		},
		{
			name:   "relative error file with pid pattern",
			target: Target{PID: 4321, NsPID: 7, Cwd: "/app", Cmdline: []string{"java", "-XX:ErrorFile=logs/crash_%p_100%%.log"}},
			want:   []string{"/app/logs/crash_7_100%.log", "/app/hs_err_pid7.log", "/tmp/hs_err_pid7.log"},
		},
		{
			name:   "missing nspid and cwd with extra dirs",
			target: Target{PID: 4321},
			hints:  SearchHints{ExtraDirs: []string{"/var/log/java", "/tmp"}},
			want:   []string{"/hs_err_pid4321.log", "/tmp/hs_err_pid4321.log", "/var/log/java/hs_err_pid4321.log"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidatePaths(tt.target, tt.hints))
		})
	}
}

func TestLocator_FindAndParse(t *testing.T) {
	fixture := loadFixture(t)
	locator := NewLocator(testutil.NewTestLoggerWithOutput(t))
	ctx := testutil.NewTestContext(t)

	t.Run("custom error file", func(t *testing.T) {
		root := fstest.MapFS{"tmp/my_custom_error_file.log": {Data: fixture}}
		target := Target{PID: 4321, NsPID: 1, Cwd: "/app", Cmdline: []string{"java", "-XX:ErrorFile=/tmp/my_custom_error_file.log"}, Root: root}

		report, err := locator.FindAndParse(ctx, target, SearchHints{})
		require.NoError(t, err)
		assert.Equal(t, "/tmp/my_custom_error_file.log", report.Path)
		assert.Equal(t, 4321, report.PID)
		assert.Equal(t, "SIGBUS", report.SignalName)
	})

	t.Run("falls back past unrecognizable candidates", func(t *testing.T) {
		root := fstest.MapFS{
			"app/hs_err_pid1.log": {Data: []byte("garbage")},
			"tmp/hs_err_pid1.log": {Data: fixture},
		}
		report, err := locator.FindAndParse(ctx, Target{PID: 4321, NsPID: 1, Cwd: "/app", Root: root}, SearchHints{})
		require.NoError(t, err)
		assert.Equal(t, "/tmp/hs_err_pid1.log", report.Path)
	})

	t.Run("report older than the process is skipped", func(t *testing.T) {
		started := time.Now()
		root := fstest.MapFS{"tmp/hs_err_pid1.log": {Data: fixture, ModTime: started.Add(-time.Hour)}}
		_, err := locator.FindAndParse(ctx, Target{PID: 4321, NsPID: 1, Root: root, Started: started}, SearchHints{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale report does not hide a fresh one", func(t *testing.T) {
		started := time.Now()
		root := fstest.MapFS{
			"app/hs_err_pid1.log": {Data: fixture, ModTime: started.Add(-time.Hour)},
			"tmp/hs_err_pid1.log": {Data: fixture, ModTime: started.Add(time.Minute)},
		}
		report, err := locator.FindAndParse(ctx, Target{PID: 4321, NsPID: 1, Cwd: "/app", Root: root, Started: started}, SearchHints{})
		require.NoError(t, err)
		assert.Equal(t, "/tmp/hs_err_pid1.log", report.Path)
	})

	t.Run("oversized report is skipped", func(t *testing.T) {
		root := fstest.MapFS{"tmp/hs_err_pid1.log": {Data: fixture}}
		_, err := locator.FindAndParse(ctx, Target{PID: 4321, NsPID: 1, Root: root}, SearchHints{MaxSize: 16})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no report", func(t *testing.T) {
		_, err := locator.FindAndParse(ctx, Target{PID: 4321, NsPID: 1, Root: fstest.MapFS{}}, SearchHints{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no root", func(t *testing.T) {
		_, err := locator.FindAndParse(ctx, Target{PID: 4321}, SearchHints{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := locator.FindAndParse(cancelled, Target{PID: 4321, Root: fstest.MapFS{}}, SearchHints{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		line string
		want int64
		ok   bool
	}{
		{line: "memory_usage_in_bytes: 53923840", want: 53923840, ok: true},
		{line: "memory_usage_in_bytes: 1024 k", want: 1024 * 1024, ok: true},
		{line: "memory_limit_in_bytes: 18446744073709551615", want: math.MaxInt64, ok: true},
		{line: "memory_limit_in_bytes: unlimited"},
		{line: "memory_limit_in_bytes:"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			key := tt.line[:strings.IndexByte(tt.line, ':')+1]
			got, ok := parseBytes(tt.line, key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

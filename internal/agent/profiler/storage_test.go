package profiler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielAmmar/gprofiler/internal/agent/collapsed"
	"github.com/DanielAmmar/gprofiler/internal/testutil"
)

func sampleResult(t *testing.T) *SnapshotResult {
	t.Helper()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result := newSnapshotResult(start)
	result.End = start.Add(30 * time.Second)

	a, err := collapsed.Parse([]byte("Main.main;Main.run 3\n"))
	require.NoError(t, err)
	b, err := collapsed.Parse([]byte("Worker.loop 2\n"))
	require.NoError(t, err)
	result.Processes[20] = &ProcessResult{PID: 20, Comm: "worker", Profile: b}
	result.Processes[10] = &ProcessResult{PID: 10, Comm: "java", Profile: a}
	result.Processes[30] = &ProcessResult{PID: 30, Comm: "java", Failure: &Failure{Kind: FailureExited, Reason: "gone"}}
	return result
}

func TestSnapshotResult_Views(t *testing.T) {
	result := sampleResult(t)

	assert.Equal(t, []int{10, 20, 30}, result.PIDs())
	assert.Len(t, result.Profiles(), 2)
	require.Len(t, result.Failures(), 1)
	assert.Equal(t, 30, result.Failures()[0].PID)
	assert.Empty(t, result.Crashes())

	merged := result.Merged()
	assert.Equal(t, int64(5), merged.Total())
	assert.Contains(t, merged.String(), "java;Main.main;Main.run 3")
	assert.Contains(t, merged.String(), "worker;Worker.loop 2")
}

func TestFileSink_Collapsed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	sink, err := NewFileSink(dir, "", 10*time.Millisecond, testutil.NewTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, sink.Write(testutil.NewTestContext(t), sampleResult(t)))

	data, err := os.ReadFile(filepath.Join(dir, "profile_20260301T120000.000Z.col"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "java;Main.main;Main.run 3\n")
	assert.Contains(t, string(data), "worker;Worker.loop 2\n")
}

func TestFileSink_Pprof(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, FormatPprof, 10*time.Millisecond, testutil.NewTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, sink.Write(testutil.NewTestContext(t), sampleResult(t)))

	f, err := os.Open(filepath.Join(dir, "profile_20260301T120000.000Z.pb.gz"))
	require.NoError(t, err)
	defer f.Close()
	prof, err := profile.Parse(f)
	require.NoError(t, err)

	var total int64
	for _, s := range prof.Sample {
		total += s.Value[0]
	}
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(30*time.Second), prof.DurationNanos)
}

func TestFileSink_EmptyCycleWritesNothing(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, FormatCollapsed, 0, testutil.NewTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, sink.Write(testutil.NewTestContext(t), newSnapshotResult(time.Now())))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewFileSink_UnknownFormat(t *testing.T) {
	_, err := NewFileSink(t.TempDir(), "json", 0, testutil.NewTestLogger(t))
	assert.ErrorContains(t, err, "unknown output format")
}

func TestFileSink_CleanupOldProfiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, FormatCollapsed, 0, testutil.NewTestLogger(t))
	require.NoError(t, err)

	old := filepath.Join(dir, "profile_old.col")
	fresh := filepath.Join(dir, "profile_new.col")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("a 1\n"), 0o644))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	require.NoError(t, sink.CleanupOldProfiles(time.Hour))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, "notes.txt,profile_new.col", strings.Join(names, ","))
}

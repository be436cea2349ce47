package constants

import "time"

// Profiling defaults.
const (
	// DefaultProfilingDuration is how long each JVM is sampled per cycle.
	DefaultProfilingDuration = 60 * time.Second

	// DefaultSamplingFrequency is in Hz; async-profiler takes it as an interval.
	DefaultSamplingFrequency = 11

	DefaultConcurrency = 4

	// DefaultSnapshotInterval is the time between cycle starts in continuous mode.
	DefaultSnapshotInterval = 60 * time.Second

	DefaultLivenessInterval = time.Second
)

// Timeouts - Default timeout values.
const (
	// DefaultCommandTimeout bounds a single jattach invocation.
	DefaultCommandTimeout = 10 * time.Second

	// DefaultOutputTimeout bounds the wait for the profiler output after stop.
	DefaultOutputTimeout = 10 * time.Second

	DefaultStopTimeout = 10 * time.Second

	// DefaultShutdownTimeout bounds the metrics server shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// Retention - Default data retention values.
const (
	DefaultProfileRetention = 24 * time.Hour

	DefaultCleanupInterval = time.Hour
)

// Caches.
const (
	// DefaultVersionCacheSize bounds the per-process JVM version cache.
	DefaultVersionCacheSize = 1024
)

// Package config loads the agent configuration: a YAML file, then GPROFILER_*
// environment overrides, then command-line flags applied by the CLI.
package config

import (
	"time"
)

// Config is the agent configuration file.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Profiler  ProfilerConfig  `yaml:"profiler"`
	Java      JavaConfig      `yaml:"java"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Output    OutputConfig    `yaml:"output"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string `yaml:"level" env:"GPROFILER_LOG_LEVEL"`
	Pretty     bool   `yaml:"pretty" env:"GPROFILER_LOG_PRETTY"`
	File       string `yaml:"file,omitempty" env:"GPROFILER_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ProfilerConfig controls profiling cycles.
type ProfilerConfig struct {
	// Duration is how long each process is sampled per cycle.
	Duration time.Duration `yaml:"duration" env:"GPROFILER_DURATION"`
	// Frequency is the sampling frequency in Hz.
	Frequency int `yaml:"frequency" env:"GPROFILER_FREQUENCY"`
	// Mode is the async-profiler event: cpu or itimer.
	Mode        string `yaml:"mode" env:"GPROFILER_MODE"`
	Concurrency int    `yaml:"concurrency" env:"GPROFILER_CONCURRENCY"`
	// StorageDir is where session files live inside each target's root.
	StorageDir       string        `yaml:"storage_dir" env:"GPROFILER_STORAGE_DIR"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	OutputTimeout    time.Duration `yaml:"output_timeout"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	LivenessInterval time.Duration `yaml:"liveness_interval"`
	// Interval is the time between cycle starts in continuous mode.
	Interval time.Duration `yaml:"interval" env:"GPROFILER_INTERVAL"`
	// FDTransfer makes the agent receive perf fds from a helper.
	FDTransfer bool `yaml:"fdtransfer,omitempty"`
}

// JavaConfig contains the async-profiler and safemode settings.
type JavaConfig struct {
	AsyncProfilerGlibc string `yaml:"async_profiler_glibc" env:"GPROFILER_ASYNC_PROFILER_GLIBC"`
	AsyncProfilerMusl  string `yaml:"async_profiler_musl" env:"GPROFILER_ASYNC_PROFILER_MUSL"`
	JattachPath        string `yaml:"jattach_path" env:"GPROFILER_JATTACH_PATH"`
	NsenterPath        string `yaml:"nsenter_path,omitempty"`
	// AgentSafemode is the async-profiler safemode bitmask, 0..127.
	AgentSafemode int `yaml:"agent_safemode" env:"GPROFILER_JAVA_ASYNC_PROFILER_SAFEMODE"`
	// AgentTimeout makes an orphaned agent stop itself. Zero derives it from
	// the profiling duration.
	AgentTimeout  time.Duration  `yaml:"agent_timeout,omitempty"`
	Safemode      SafemodeConfig `yaml:"safemode"`
	VersionChecks bool           `yaml:"version_checks" env:"GPROFILER_JAVA_VERSION_CHECK"`
	// MinimalSupportedVersions replaces the built-in vetted versions table.
	MinimalSupportedVersions map[int]MinimalVersion `yaml:"minimal_supported_versions,omitempty"`
}

// SafemodeConfig is the Java safemode section.
type SafemodeConfig struct {
	Enabled bool `yaml:"enabled" env:"GPROFILER_JAVA_SAFEMODE"`
	// Options lists the enabled checks; empty means all of them.
	Options []string `yaml:"options,omitempty" env:"GPROFILER_JAVA_SAFEMODE_OPTIONS"`
	// CrashSearchDirs are extra directories searched for hotspot error logs.
	CrashSearchDirs []string `yaml:"crash_search_dirs,omitempty"`
}

// MinimalVersion is a vetted release of one major version.
type MinimalVersion struct {
	Version  string `yaml:"version"`
	MinBuild int    `yaml:"min_build"`
}

// DiscoveryConfig selects the profiled processes.
type DiscoveryConfig struct {
	// PIDs restricts profiling to these processes.
	PIDs        []int  `yaml:"pids,omitempty" env:"GPROFILER_PIDS"`
	NamePattern string `yaml:"name_pattern" env:"GPROFILER_PROCESS_PATTERN"`
}

// OutputConfig controls where continuous mode stores cycles.
type OutputConfig struct {
	Dir             string        `yaml:"dir" env:"GPROFILER_OUTPUT_DIR"`
	Format          string        `yaml:"format" env:"GPROFILER_OUTPUT_FORMAT"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr,omitempty" env:"GPROFILER_METRICS_ADDR"`
}

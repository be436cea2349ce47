package config

import (
	"github.com/DanielAmmar/gprofiler/internal/agent/asyncprof"
	"github.com/DanielAmmar/gprofiler/internal/agent/discovery"
	"github.com/DanielAmmar/gprofiler/internal/agent/profiler"
	"github.com/DanielAmmar/gprofiler/internal/constants"
	"github.com/DanielAmmar/gprofiler/internal/jvm"
)

// Default returns the configuration used when no file exists. Safemode is on
// with every option, as on a production host.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Pretty:     true,
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Profiler: ProfilerConfig{
			Duration:         constants.DefaultProfilingDuration,
			Frequency:        constants.DefaultSamplingFrequency,
			Mode:             asyncprof.DefaultMode,
			Concurrency:      constants.DefaultConcurrency,
			StorageDir:       asyncprof.DefaultStorageDir,
			CommandTimeout:   constants.DefaultCommandTimeout,
			OutputTimeout:    constants.DefaultOutputTimeout,
			StopTimeout:      constants.DefaultStopTimeout,
			LivenessInterval: constants.DefaultLivenessInterval,
			Interval:         constants.DefaultSnapshotInterval,
		},
		Java: JavaConfig{
			AsyncProfilerGlibc: constants.DefaultAsyncProfilerGlibc,
			AsyncProfilerMusl:  constants.DefaultAsyncProfilerMusl,
			JattachPath:        constants.DefaultJattachPath,
			NsenterPath:        constants.DefaultNsenterPath,
			AgentSafemode:      jvm.RequiredAgentSafemode,
			Safemode:           SafemodeConfig{Enabled: true},
			VersionChecks:      true,
		},
		Discovery: DiscoveryConfig{
			NamePattern: discovery.DefaultNamePattern,
		},
		Output: OutputConfig{
			Dir:             constants.DefaultOutputDir,
			Format:          profiler.FormatCollapsed,
			Retention:       constants.DefaultProfileRetention,
			CleanupInterval: constants.DefaultCleanupInterval,
		},
	}
}

// Package constants defines shared configuration constants.
package constants

var (
	// DefaultConfigPath is read when no --config flag is given.
	DefaultConfigPath = "/etc/gprofiler/agent.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GPROFILER_"

	DefaultJattachPath = "/usr/local/lib/gprofiler/jattach"

	DefaultAsyncProfilerGlibc = "/usr/local/lib/gprofiler/glibc/libasyncProfiler.so"

	DefaultAsyncProfilerMusl = "/usr/local/lib/gprofiler/musl/libasyncProfiler.so"

	DefaultNsenterPath = "nsenter"

	// DefaultOutputDir holds stored cycles in continuous mode.
	DefaultOutputDir = "/var/lib/gprofiler/profiles"
)

// Package profile implements the profiling commands: snapshot, run and status.
package profile

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/DanielAmmar/gprofiler/internal/config"
)

// Options are the flags shared by the profiling commands. Flags given on the
// command line override the configuration file and the environment.
type Options struct {
	ConfigPath    string
	PIDs          []int
	Duration      time.Duration
	Frequency     int
	Mode          string
	Concurrency   int
	LogLevel      string
	Safemode      bool
	AgentSafemode int
	VersionChecks bool
}

// AddFlags registers the shared flags.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&o.ConfigPath, "config", "c", "", "Configuration file (default /etc/gprofiler/agent.yaml)")
	flags.IntSliceVarP(&o.PIDs, "pid", "p", nil, "Profile only these pids (repeatable or comma-separated)")
	flags.DurationVarP(&o.Duration, "duration", "d", 0, "Sampling duration per process")
	flags.IntVarP(&o.Frequency, "frequency", "f", 0, "Sampling frequency in Hz")
	flags.StringVar(&o.Mode, "mode", "", "async-profiler event: cpu or itimer")
	flags.IntVar(&o.Concurrency, "concurrency", 0, "Processes profiled at the same time")
	flags.StringVar(&o.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&o.Safemode, "java-safemode", false, "Enable every Java safemode check")
	flags.IntVar(&o.AgentSafemode, "java-async-profiler-safemode", 0, "async-profiler safemode bitmask (0-127)")
	flags.BoolVar(&o.VersionChecks, "java-version-check", false, "Probe the Java version before attaching")
}

// Load reads the configuration, applies the flags that were set and validates
// the result.
func (o *Options) Load(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	o.apply(flags, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *Options) apply(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("pid") {
		cfg.Discovery.PIDs = o.PIDs
	}
	if flags.Changed("duration") {
		cfg.Profiler.Duration = o.Duration
	}
	if flags.Changed("frequency") {
		cfg.Profiler.Frequency = o.Frequency
	}
	if flags.Changed("mode") {
		cfg.Profiler.Mode = o.Mode
	}
	if flags.Changed("concurrency") {
		cfg.Profiler.Concurrency = o.Concurrency
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if flags.Changed("java-safemode") {
		cfg.Java.Safemode.Enabled = o.Safemode
	}
	if flags.Changed("java-async-profiler-safemode") {
		cfg.Java.AgentSafemode = o.AgentSafemode
	}
	if flags.Changed("java-version-check") {
		cfg.Java.VersionChecks = o.VersionChecks
	}
}

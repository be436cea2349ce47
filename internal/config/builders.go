package config

import (
	"time"

	"github.com/DanielAmmar/gprofiler/internal/agent/asyncprof"
	"github.com/DanielAmmar/gprofiler/internal/agent/discovery"
	"github.com/DanielAmmar/gprofiler/internal/agent/profiler"
	"github.com/DanielAmmar/gprofiler/internal/jvm"
	"github.com/DanielAmmar/gprofiler/internal/jvm/crashlog"
	"github.com/DanielAmmar/gprofiler/internal/logging"
)

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Pretty:     c.Log.Pretty,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// SafemodeParams maps the java section into safemode parameters.
func (c *Config) SafemodeParams() (jvm.SafemodeParams, error) {
	params := jvm.SafemodeParams{
		Enabled:       c.Java.Safemode.Enabled,
		AgentSafemode: c.Java.AgentSafemode,
		VersionChecks: c.Java.VersionChecks,
	}
	for _, opt := range c.Java.Safemode.Options {
		params.Options = append(params.Options, jvm.SafemodeOption(opt))
	}

	if len(c.Java.MinimalSupportedVersions) > 0 {
		table := make(jvm.CompatTable, len(c.Java.MinimalSupportedVersions))
		for major, mv := range c.Java.MinimalSupportedVersions {
			v, err := jvm.Parse(mv.Version)
			if err != nil {
				return jvm.SafemodeParams{}, err
			}
			if v.Major != major {
				return jvm.SafemodeParams{}, &jvm.ConfigurationError{
					Field:   "minimal_supported_versions",
					Message: "version " + mv.Version + " listed under another major version",
				}
			}
			table[major] = jvm.CompatEntry{Version: jvm.VersionInfo{Major: v.Major, Minor: v.Minor, Patch: v.Patch}, MinBuild: mv.MinBuild}
		}
		params.MinimalSupportedVersions = table
	}
	return params, nil
}

// SafemodeConfig builds the validated safemode configuration.
func (c *Config) SafemodeConfig() (jvm.SafemodeConfig, error) {
	params, err := c.SafemodeParams()
	if err != nil {
		return jvm.SafemodeConfig{}, err
	}
	return jvm.NewSafemodeConfig(params)
}

// SamplingInterval converts the sampling frequency into an interval.
func (c *Config) SamplingInterval() time.Duration {
	if c.Profiler.Frequency <= 0 {
		return asyncprof.DefaultInterval
	}
	return time.Second / time.Duration(c.Profiler.Frequency)
}

// SessionConfig returns the per-session agent settings.
func (c *Config) SessionConfig() asyncprof.Config {
	agentTimeout := c.Java.AgentTimeout
	if agentTimeout == 0 {
		agentTimeout = c.Profiler.Duration + c.Profiler.StopTimeout
	}
	return asyncprof.Config{
		StorageDir:     c.Profiler.StorageDir,
		Mode:           c.Profiler.Mode,
		Interval:       c.SamplingInterval(),
		FDTransfer:     c.Profiler.FDTransfer,
		AgentSafemode:  c.Java.AgentSafemode,
		AgentTimeout:   agentTimeout,
		CommandTimeout: c.Profiler.CommandTimeout,
		OutputTimeout:  c.Profiler.OutputTimeout,
	}
}

// SupervisorConfig returns the supervisor settings for the given safemode.
func (c *Config) SupervisorConfig(safemode jvm.SafemodeConfig) profiler.Config {
	return profiler.Config{
		Duration:         c.Profiler.Duration,
		Concurrency:      c.Profiler.Concurrency,
		LivenessInterval: c.Profiler.LivenessInterval,
		StopTimeout:      c.Profiler.StopTimeout,
		Session:          c.SessionConfig(),
		Safemode:         safemode,
		CrashSearch:      crashlog.SearchHints{ExtraDirs: c.Java.Safemode.CrashSearchDirs},
	}
}

// DiscoveryConfig returns the process selection.
func (c *Config) DiscoveryConfig() discovery.Config {
	return discovery.Config{PIDs: c.Discovery.PIDs, NamePattern: c.Discovery.NamePattern}
}

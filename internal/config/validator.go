package config

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/DanielAmmar/gprofiler/internal/agent/profiler"
	"github.com/DanielAmmar/gprofiler/internal/jvm"
	"github.com/DanielAmmar/gprofiler/internal/logging"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// Fields returns the names of the invalid fields.
func (e *MultiValidationError) Fields() []string {
	out := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		out = append(out, err.Field)
	}
	return out
}

var validModes = map[string]bool{"cpu": true, "itimer": true}

// Validate checks the whole configuration and reports every invalid field.
func (c *Config) Validate() error {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !logging.ValidLevel(c.Log.Level) {
		add("log.level", "unknown log level %q", c.Log.Level)
	}

	p := c.Profiler
	if p.Duration <= 0 {
		add("profiler.duration", "duration must be positive")
	}
	if p.Frequency < 1 || p.Frequency > 1000 {
		add("profiler.frequency", "frequency must be between 1 and 1000 Hz, got %d", p.Frequency)
	}
	if !validModes[p.Mode] {
		add("profiler.mode", "mode must be 'cpu' or 'itimer', got %q", p.Mode)
	}
	if p.Concurrency < 1 {
		add("profiler.concurrency", "concurrency must be at least 1")
	}
	if !path.IsAbs(p.StorageDir) {
		add("profiler.storage_dir", "storage dir must be an absolute path, got %q", p.StorageDir)
	}
	if p.Interval <= 0 {
		add("profiler.interval", "snapshot interval must be positive")
	}

	if c.Java.AsyncProfilerGlibc == "" {
		add("java.async_profiler_glibc", "async-profiler library path is required")
	}
	if c.Java.JattachPath == "" {
		add("java.jattach_path", "jattach path is required")
	}
	if _, err := c.SafemodeConfig(); err != nil {
		var cfgErr *jvm.ConfigurationError
		var parseErr *jvm.VersionParseError
		switch {
		case errors.As(err, &cfgErr):
			add("java."+cfgErr.Field, "%s", cfgErr.Message)
		case errors.As(err, &parseErr):
			add("java.minimal_supported_versions", "%s", parseErr.Error())
		default:
			add("java", "%s", err.Error())
		}
	}

	for _, pid := range c.Discovery.PIDs {
		if pid <= 0 {
			add("discovery.pids", "invalid pid %d", pid)
		}
	}
	if _, err := regexp.Compile(c.Discovery.NamePattern); err != nil {
		add("discovery.name_pattern", "invalid pattern: %v", err)
	}

	switch c.Output.Format {
	case profiler.FormatCollapsed, profiler.FormatPprof:
	default:
		add("output.format", "format must be %q or %q, got %q", profiler.FormatCollapsed, profiler.FormatPprof, c.Output.Format)
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}

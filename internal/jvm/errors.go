package jvm

import (
	"fmt"
)

// ConfigurationError reports an invalid safemode configuration. It is raised at
// construction and never retried.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// VersionParseError reports a runtime version string outside the known grammar.
type VersionParseError struct {
	Raw    string
	Reason string
}

func (e *VersionParseError) Error() string {
	return fmt.Sprintf("failed to parse java version %q: %s", firstLine(e.Raw), e.Reason)
}

// UnsupportedVersionError is a safemode rejection on the version triple.
type UnsupportedVersionError struct {
	Version  VersionInfo
	Required *VersionInfo
}

func (e *UnsupportedVersionError) Error() string {
	if e.Required == nil {
		return fmt.Sprintf("Unsupported java version %s (no vetted minimal version for major %d)", e.Version, e.Version.Major)
	}
	return fmt.Sprintf("Unsupported java version %s (minimal supported is %s)", e.Version, e.Required)
}

// UnsupportedBuildError is a safemode rejection on the build number.
type UnsupportedBuildError struct {
	Version  VersionInfo
	MinBuild int
}

func (e *UnsupportedBuildError) Error() string {
	return fmt.Sprintf("Unsupported build number %d for java version %s (minimal supported build is %d)",
		e.Version.EffectiveBuild(), e.Version, e.MinBuild)
}

// UnsupportedVMError is a safemode rejection on the VM implementation.
type UnsupportedVMError struct {
	VMName string
	VMType VMType
}

func (e *UnsupportedVMError) Error() string {
	return fmt.Sprintf("Unsupported JVM type %s (%q)", e.VMType, e.VMName)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

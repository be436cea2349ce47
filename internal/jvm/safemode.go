package jvm

import (
	"fmt"
	"sort"
	"strings"
)

// RequiredAgentSafemode is the async-profiler safemode bitmask that disables every
// risky stack-walking recovery technique. Java safemode requires it.
const RequiredAgentSafemode = 127

// SafemodeOption is an optional extra check enabled under Java safemode.
type SafemodeOption string

const (
	// OptionHSErr stops attaching for the rest of the run once a profiled JVM crashed.
	OptionHSErr SafemodeOption = "hserr"
	// OptionAPLoadedCheck skips processes that already map a foreign agent library.
	OptionAPLoadedCheck SafemodeOption = "ap-loaded-check"
	// OptionExtendedVersionChecks restricts attachment to HotSpot VMs.
	OptionExtendedVersionChecks SafemodeOption = "java-extended-version-checks"
)

// AllSafemodeOptions lists every option; it is the default when safemode is
// enabled without an explicit list.
var AllSafemodeOptions = []SafemodeOption{OptionHSErr, OptionAPLoadedCheck, OptionExtendedVersionChecks}

// SafemodeParams are the externally supplied safemode settings.
type SafemodeParams struct {
	Enabled       bool
	AgentSafemode int
	VersionChecks bool
	Options       []SafemodeOption
	// MinimalSupportedVersions overrides DefaultMinimalSupportedVersions when non-nil.
	MinimalSupportedVersions CompatTable
}

// SafemodeConfig is an immutable, validated safemode configuration.
// Use NewSafemodeConfig; the zero value means safemode disabled.
type SafemodeConfig struct {
	enabled       bool
	agentSafemode int
	versionChecks bool
	options       map[SafemodeOption]struct{}
	table         CompatTable
}

// NewSafemodeConfig validates params and returns the configuration.
func NewSafemodeConfig(params SafemodeParams) (SafemodeConfig, error) {
	if params.AgentSafemode < 0 || params.AgentSafemode > RequiredAgentSafemode {
		return SafemodeConfig{}, &ConfigurationError{
			Field:   "agent_safemode",
			Message: fmt.Sprintf("Async-profiler safemode must be between 0 and %d, got %d", RequiredAgentSafemode, params.AgentSafemode),
		}
	}

	if params.Enabled {
		if params.AgentSafemode != RequiredAgentSafemode {
			return SafemodeConfig{}, &ConfigurationError{
				Field: "agent_safemode",
				Message: fmt.Sprintf("Async-profiler safemode must be set to %d in --java-safemode (or --java-async-profiler-safemode), got %d",
					RequiredAgentSafemode, params.AgentSafemode),
			}
		}
		if !params.VersionChecks {
			return SafemodeConfig{}, &ConfigurationError{
				Field:   "version_checks",
				Message: "Java version checks are mandatory in --java-safemode",
			}
		}
	}

	options := params.Options
	if params.Enabled && len(options) == 0 {
		options = AllSafemodeOptions
	}
	set := make(map[SafemodeOption]struct{}, len(options))
	for _, opt := range options {
		if !isKnownOption(opt) {
			return SafemodeConfig{}, &ConfigurationError{
				Field:   "options",
				Message: fmt.Sprintf("unknown java safemode option %q", opt),
			}
		}
		set[opt] = struct{}{}
	}

	table := DefaultMinimalSupportedVersions()
	if params.MinimalSupportedVersions != nil {
		table = params.MinimalSupportedVersions.Copy()
	}

	return SafemodeConfig{
		enabled:       params.Enabled,
		agentSafemode: params.AgentSafemode,
		versionChecks: params.VersionChecks,
		options:       set,
		table:         table,
	}, nil
}

func isKnownOption(opt SafemodeOption) bool {
	for _, known := range AllSafemodeOptions {
		if opt == known {
			return true
		}
	}
	return false
}

// Validate re-checks the construction invariants. A zero value is valid.
func (c SafemodeConfig) Validate() error {
	if !c.enabled {
		return nil
	}
	_, err := NewSafemodeConfig(SafemodeParams{
		Enabled:                  true,
		AgentSafemode:            c.agentSafemode,
		VersionChecks:            c.versionChecks,
		Options:                  c.Options(),
		MinimalSupportedVersions: c.table,
	})
	return err
}

// Enabled reports whether Java safemode is on.
func (c SafemodeConfig) Enabled() bool { return c.enabled }

// AgentSafemode returns the async-profiler safemode bitmask.
func (c SafemodeConfig) AgentSafemode() int { return c.agentSafemode }

// VersionChecks reports whether the runtime version must be probed before attaching.
func (c SafemodeConfig) VersionChecks() bool { return c.versionChecks }

// Has reports whether opt is enabled.
func (c SafemodeConfig) Has(opt SafemodeOption) bool {
	_, ok := c.options[opt]
	return ok
}

// Options returns the enabled options, sorted.
func (c SafemodeConfig) Options() []SafemodeOption {
	out := make([]SafemodeOption, 0, len(c.options))
	for opt := range c.options {
		out = append(out, opt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Table returns a copy of the minimal supported versions table.
func (c SafemodeConfig) Table() CompatTable {
	if c.table == nil {
		return DefaultMinimalSupportedVersions()
	}
	return c.table.Copy()
}

// Gate decides whether a runtime may be attached to. It returns nil to allow,
// or one of the Unsupported* errors.
func (c SafemodeConfig) Gate(v JVMVersion) error {
	if !c.enabled {
		return nil
	}
	if err := Check(v.Version, c.table); err != nil {
		return err
	}
	if c.Has(OptionExtendedVersionChecks) && v.VMType != VMHotSpot {
		return &UnsupportedVMError{VMName: v.VMName, VMType: v.VMType}
	}
	return nil
}

func (c SafemodeConfig) String() string {
	if !c.enabled {
		return "disabled"
	}
	opts := make([]string, 0, len(c.options))
	for _, opt := range c.Options() {
		opts = append(opts, string(opt))
	}
	return fmt.Sprintf("enabled(agent_safemode=%d, options=%s)", c.agentSafemode, strings.Join(opts, ","))
}

package jvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafemodeConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		params  SafemodeParams
		wantErr string
	}{
		{
			name:    "safemode requires agent safemode 127",
			params:  SafemodeParams{Enabled: true, AgentSafemode: 0, VersionChecks: true},
			wantErr: "Async-profiler safemode must be set to 127 in --java-safemode",
		},
		{
			name:    "safemode requires version checks",
			params:  SafemodeParams{Enabled: true, AgentSafemode: 127, VersionChecks: false},
			wantErr: "Java version checks are mandatory in --java-safemode",
		},
		{
			name:    "agent safemode out of range",
			params:  SafemodeParams{AgentSafemode: 200},
			wantErr: "between 0 and 127",
		},
		{
			name:    "unknown option",
			params:  SafemodeParams{Enabled: true, AgentSafemode: 127, VersionChecks: true, Options: []SafemodeOption{"profiled-oom"}},
			wantErr: `unknown java safemode option "profiled-oom"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSafemodeConfig(tt.params)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewSafemodeConfig_ThresholdProperty(t *testing.T) {
	for threshold := 0; threshold <= RequiredAgentSafemode; threshold++ {
		_, err := NewSafemodeConfig(SafemodeParams{Enabled: true, AgentSafemode: threshold, VersionChecks: true})
		if threshold == RequiredAgentSafemode {
			assert.NoError(t, err)
		} else {
			assert.Error(t, err, "threshold %d", threshold)
		}
	}
}

func TestSafemodeConfig_Defaults(t *testing.T) {
	cfg, err := NewSafemodeConfig(SafemodeParams{Enabled: true, AgentSafemode: 127, VersionChecks: true})
	require.NoError(t, err)

	for _, opt := range AllSafemodeOptions {
		assert.True(t, cfg.Has(opt), opt)
	}
	assert.Equal(t, DefaultMinimalSupportedVersions(), cfg.Table())
	assert.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.String(), "agent_safemode=127")

	var zero SafemodeConfig
	assert.False(t, zero.Enabled())
	assert.NoError(t, zero.Validate())
	assert.Equal(t, "disabled", zero.String())
}

func TestSafemodeConfig_TableIsImmutable(t *testing.T) {
	table := CompatTable{8: {Version: VersionInfo{Major: 8, Minor: 999}}}
	cfg, err := NewSafemodeConfig(SafemodeParams{
		Enabled: true, AgentSafemode: 127, VersionChecks: true, MinimalSupportedVersions: table,
	})
	require.NoError(t, err)

	table[8] = CompatEntry{Version: VersionInfo{Major: 8}}
	got := cfg.Table()
	got[11] = CompatEntry{}

	assert.Equal(t, 999, cfg.Table()[8].Version.Minor)
	assert.NotContains(t, cfg.Table(), 11)
}

func TestSafemodeConfig_Gate(t *testing.T) {
	cfg, err := NewSafemodeConfig(SafemodeParams{Enabled: true, AgentSafemode: 127, VersionChecks: true})
	require.NoError(t, err)

	hotspot := JVMVersion{Version: NewVersion(11, 0, 8, 10), VMType: VMHotSpot}
	assert.NoError(t, cfg.Gate(hotspot))

	j9 := JVMVersion{Version: NewVersion(11, 0, 8, 10), VMType: VMOpenJ9, VMName: "Eclipse OpenJ9 VM"}
	var vmErr *UnsupportedVMError
	require.ErrorAs(t, cfg.Gate(j9), &vmErr)

	old := JVMVersion{Version: NewVersion(8, 20, 0, 1), VMType: VMHotSpot}
	var verErr *UnsupportedVersionError
	require.ErrorAs(t, cfg.Gate(old), &verErr)

	disabled, err := NewSafemodeConfig(SafemodeParams{AgentSafemode: 0})
	require.NoError(t, err)
	assert.NoError(t, disabled.Gate(old))
}

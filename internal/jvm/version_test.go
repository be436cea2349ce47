package jvm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want VersionInfo
	}{
		{"8.300.1", VersionInfo{Major: 8, Minor: 300, Patch: 1}},
		{"11.0.8+10", NewVersion(11, 0, 8, 10)},
		{"17.0.1+12-LTS", NewVersion(17, 0, 1, 12)},
		{"1.8.0_282-b08", NewVersion(8, 282, 0, 8)},
		{"1.8.0_282", VersionInfo{Major: 8, Minor: 282}},
		{"1.7.0_76", VersionInfo{Major: 7, Minor: 76}},
		{"14", VersionInfo{Major: 14}},
		{"11.0.9.1", VersionInfo{Major: 11, Minor: 0, Patch: 9}},
		{"11.0.8-internal", VersionInfo{Major: 11, Minor: 0, Patch: 8}},
		{"17-ea", VersionInfo{Major: 17}},
		{"25.282-b08", NewVersion(25, 282, 0, 8)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, raw := range []string{"", "abc", ".1", "8", "1.", "8.x", "11.0.8+abc", "11.0.8+"} {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			var parseErr *VersionParseError
			require.True(t, errors.As(err, &parseErr), "got %v", err)
		})
	}
}

func TestVersionInfo_Compare(t *testing.T) {
	assert.Equal(t, 0, NewVersion(8, 300, 1, 5).Compare(VersionInfo{Major: 8, Minor: 300, Patch: 1}))
	assert.Equal(t, -1, VersionInfo{Major: 8, Minor: 300, Patch: 1}.Compare(VersionInfo{Major: 8, Minor: 999}))
	assert.Equal(t, 1, VersionInfo{Major: 11, Minor: 0, Patch: 10}.Compare(VersionInfo{Major: 11, Minor: 0, Patch: 9}))
	assert.Equal(t, 1, VersionInfo{Major: 8, Minor: 10}.Compare(VersionInfo{Major: 8, Minor: 9, Patch: 99}))

	unknownBuild := VersionInfo{Major: 11, Minor: 0, Patch: 2}
	assert.Equal(t, 0, unknownBuild.CompareWithBuild(NewVersion(11, 0, 2, 0)))
	assert.Equal(t, -1, unknownBuild.CompareWithBuild(NewVersion(11, 0, 2, 1)))

	assert.Equal(t, 1, VersionInfo{Major: 11}.Compare(VersionInfo{Major: 11, Minor: -1}))
	assert.Equal(t, -1, VersionInfo{Major: -1}.CompareWithBuild(VersionInfo{}))
}

func TestVersionInfo_Strings(t *testing.T) {
	assert.Equal(t, "8.300.1", NewVersion(8, 300, 1, 5).String())
	assert.Equal(t, "8.300.1+5", NewVersion(8, 300, 1, 5).FullString())
	assert.Equal(t, "14.0.0", VersionInfo{Major: 14}.FullString())
}

func TestParseVersionOutput(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		version  VersionInfo
		vmType   VMType
		vmPrefix string
	}{
		{
			name: "java 8 adoptopenjdk",
			output: `openjdk version "1.8.0_265"
OpenJDK Runtime Environment (AdoptOpenJDK)(build 1.8.0_265-b01)
OpenJDK 64-Bit Server VM (AdoptOpenJDK)(build 25.265-b01, mixed mode)
`,
			version:  NewVersion(8, 265, 0, 1),
			vmType:   VMHotSpot,
			vmPrefix: "OpenJDK 64-Bit Server VM",
		},
		{
			name: "java 11 with tool options",
			output: `Picked up JAVA_TOOL_OPTIONS: -Xmx1g
openjdk version "11.0.8" 2020-07-14
OpenJDK Runtime Environment AdoptOpenJDK (build 11.0.8+10)
OpenJDK 64-Bit Server VM AdoptOpenJDK (build 11.0.8+10, mixed mode)
`,
			version:  NewVersion(11, 0, 8, 10),
			vmType:   VMHotSpot,
			vmPrefix: "OpenJDK 64-Bit Server VM AdoptOpenJDK",
		},
		{
			name: "openj9",
			output: `openjdk version "11.0.10" 2021-01-19
OpenJDK Runtime Environment AdoptOpenJDK (build 11.0.10+9)
Eclipse OpenJ9 VM AdoptOpenJDK (build openj9-0.24.0, JRE 11 Linux amd64-64-Bit Compressed References 20210120_899 (JIT enabled, AOT enabled)
`,
			version:  NewVersion(11, 0, 10, 9),
			vmType:   VMOpenJ9,
			vmPrefix: "Eclipse OpenJ9 VM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersionOutput(tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.version, got.Version)
			assert.Equal(t, tt.vmType, got.VMType)
			assert.True(t, len(got.VMName) >= len(tt.vmPrefix) && got.VMName[:len(tt.vmPrefix)] == tt.vmPrefix, got.VMName)
		})
	}
}

func TestParseVersionOutput_Errors(t *testing.T) {
	_, err := ParseVersionOutput("bash: java: command not found")
	var parseErr *VersionParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), "no version line")

	_, err = ParseVersionOutput(`openjdk version "x.y"`)
	require.ErrorAs(t, err, &parseErr)
}

// Package jvm parses JVM version banners and decides whether a runtime is safe to
// attach the native profiler to.
package jvm

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// VersionInfo is a parsed runtime version.
//
// Versions compare lexicographically on (Major, Minor, Patch). Build is the
// vendor build number ("+10", "-b08"); a version without one compares as build 0.
type VersionInfo struct {
	Major    int
	Minor    int
	Patch    int
	Build    int
	HasBuild bool
}

// NewVersion returns a VersionInfo with a known build number.
func NewVersion(major, minor, patch, build int) VersionInfo {
	return VersionInfo{Major: major, Minor: minor, Patch: patch, Build: build, HasBuild: true}
}

// EffectiveBuild returns the build number, or 0 when unknown.
func (v VersionInfo) EffectiveBuild() int {
	if !v.HasBuild {
		return 0
	}
	return v.Build
}

// String returns the dotted version without the build.
func (v VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// FullString includes the build number when known.
func (v VersionInfo) FullString() string {
	if !v.HasBuild {
		return v.String()
	}
	return fmt.Sprintf("%s+%d", v, v.Build)
}

// Compare compares the (Major, Minor, Patch) triple, ignoring the build.
// It returns -1, 0 or +1.
func (v VersionInfo) Compare(other VersionInfo) int {
	if c := cmp.Compare(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Minor, other.Minor); c != 0 {
		return c
	}
	return cmp.Compare(v.Patch, other.Patch)
}

// CompareWithBuild compares versions and, on a tie, the effective build numbers.
func (v VersionInfo) CompareWithBuild(other VersionInfo) int {
	if c := v.Compare(other); c != 0 {
		return c
	}
	return cmp.Compare(v.EffectiveBuild(), other.EffectiveBuild())
}

var (
	// 1.8.0_282-b08, 1.7.0_76
	legacyVersionRe = regexp.MustCompile(`^1\.(\d+)(?:\.(\d+))?(?:_(\d+))?(.*)$`)
	// 11.0.8+10, 17.0.1+12-LTS, 8.300.1, 14, 11.0.9.1-ea
	modernVersionRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)(.*)$`)
	plusBuildRe     = regexp.MustCompile(`^\+([^-.]*)`)
	dashBuildRe     = regexp.MustCompile(`-b(\d+)`)
)

// legacyVersionCutoff is the first major version that uses the JEP 223 scheme.
const legacyVersionCutoff = 9

// Parse parses a runtime version string such as "11.0.8+10" or "1.8.0_282-b08".
//
// The legacy "1.N.x_U" scheme maps to N.U.x so that update releases order
// correctly. Qualifiers such as "-ea", "-internal" or "-LTS" are ignored.
func Parse(raw string) (VersionInfo, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return VersionInfo{}, &VersionParseError{Raw: raw, Reason: "empty version"}
	}

	if m := legacyVersionRe.FindStringSubmatch(s); m != nil {
		major, _ := strconv.Atoi(m[1])
		patch, update := 0, 0
		if m[2] != "" {
			patch, _ = strconv.Atoi(m[2])
		}
		if m[3] != "" {
			update, _ = strconv.Atoi(m[3])
		}
		v := VersionInfo{Major: major, Minor: update, Patch: patch}
		if err := parseQualifier(&v, raw, m[4]); err != nil {
			return VersionInfo{}, err
		}
		return v, nil
	}

	m := modernVersionRe.FindStringSubmatch(s)
	if m == nil {
		return VersionInfo{}, &VersionParseError{Raw: raw, Reason: "missing major version"}
	}

	parsed, err := goversion.NewVersion(m[1])
	if err != nil {
		return VersionInfo{}, &VersionParseError{Raw: raw, Reason: err.Error()}
	}
	segments := parsed.Segments()
	if strings.Count(m[1], ".") == 0 && segments[0] < legacyVersionCutoff {
		return VersionInfo{}, &VersionParseError{Raw: raw, Reason: "missing minor version"}
	}

	v := VersionInfo{Major: segments[0], Minor: segments[1], Patch: segments[2]}
	if err := parseQualifier(&v, raw, m[2]); err != nil {
		return VersionInfo{}, err
	}
	return v, nil
}

// parseQualifier extracts a build number from the text following the version.
func parseQualifier(v *VersionInfo, raw, rest string) error {
	if rest == "" {
		return nil
	}
	if !strings.HasPrefix(rest, "+") && !strings.HasPrefix(rest, "-") {
		return &VersionParseError{Raw: raw, Reason: fmt.Sprintf("unexpected qualifier %q", rest)}
	}

	var buildStr string
	if m := plusBuildRe.FindStringSubmatch(rest); m != nil {
		buildStr = m[1]
	} else if m := dashBuildRe.FindStringSubmatch(rest); m != nil {
		buildStr = m[1]
	} else {
		return nil
	}

	build, err := strconv.Atoi(buildStr)
	if err != nil || build < 0 {
		return &VersionParseError{Raw: raw, Reason: fmt.Sprintf("non-numeric build %q", buildStr)}
	}
	v.Build = build
	v.HasBuild = true
	return nil
}

// VMType identifies the virtual machine implementation.
type VMType string

const (
	VMHotSpot VMType = "HotSpot"
	VMOpenJ9  VMType = "OpenJ9"
	VMZing    VMType = "Zing"
	VMUnknown VMType = "unknown"
)

// JVMVersion is the parsed output of "java -version".
type JVMVersion struct {
	Version VersionInfo
	VMName  string
	VMType  VMType
}

// ParseVersionOutput parses the banner printed by "java -version", e.g.
//
//	openjdk version "11.0.8" 2020-07-14
//	OpenJDK Runtime Environment AdoptOpenJDK (build 11.0.8+10)
//	OpenJDK 64-Bit Server VM AdoptOpenJDK (build 11.0.8+10, mixed mode)
//
// Leading lines such as "Picked up JAVA_TOOL_OPTIONS" are skipped.
func ParseVersionOutput(output string) (JVMVersion, error) {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	start := -1
	for i, line := range lines {
		if strings.Contains(line, ` version "`) {
			start = i
			break
		}
	}
	if start < 0 {
		return JVMVersion{}, &VersionParseError{Raw: output, Reason: "no version line"}
	}

	quoted := strings.Split(lines[start], `"`)
	if len(quoted) < 3 {
		return JVMVersion{}, &VersionParseError{Raw: output, Reason: "unquoted version"}
	}
	v, err := Parse(quoted[1])
	if err != nil {
		return JVMVersion{}, err
	}

	var vmLine string
	for _, line := range lines[start+1:] {
		if v.HasBuild {
			break
		}
		b, ok := buildOf(line)
		if !ok {
			continue
		}
		// Vendor builds such as IBM's carry free-form build strings; skip those.
		if bv, err := Parse(b); err == nil && bv.HasBuild {
			v.Build, v.HasBuild = bv.Build, true
		}
	}
	for _, line := range lines[start+1:] {
		if strings.Contains(line, " VM") {
			vmLine = strings.TrimSpace(line)
			break
		}
	}

	name := vmLine
	if idx := strings.Index(name, "(build"); idx >= 0 {
		name = strings.TrimSpace(name[:idx])
	}

	return JVMVersion{Version: v, VMName: name, VMType: vmTypeOf(vmLine)}, nil
}

// buildOf extracts X from "... (build X, mixed mode)" or "... (build X)".
func buildOf(line string) (string, bool) {
	idx := strings.Index(line, "(build ")
	if idx < 0 {
		return "", false
	}
	b := line[idx+len("(build "):]
	if end := strings.IndexAny(b, ",)"); end >= 0 {
		b = b[:end]
	}
	return strings.TrimSpace(b), b != ""
}

func vmTypeOf(vmLine string) VMType {
	switch {
	case strings.Contains(vmLine, "OpenJ9"), strings.Contains(vmLine, "J9"):
		return VMOpenJ9
	case strings.Contains(vmLine, "Zing"), strings.Contains(vmLine, "Zulu Prime"):
		return VMZing
	case strings.Contains(vmLine, "HotSpot"), strings.Contains(vmLine, "Server VM"), strings.Contains(vmLine, "Client VM"):
		return VMHotSpot
	}
	return VMUnknown
}

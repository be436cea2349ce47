package jvm

// CompatEntry is the minimal vetted release of one major version.
type CompatEntry struct {
	Version  VersionInfo
	MinBuild int
}

// CompatTable maps a major version to its minimal vetted release.
type CompatTable map[int]CompatEntry

// Copy returns an independent copy of the table.
func (t CompatTable) Copy() CompatTable {
	out := make(CompatTable, len(t))
	for major, entry := range t {
		out[major] = entry
	}
	return out
}

// DefaultMinimalSupportedVersions returns the vetted table. Majors not listed are
// unsupported while safemode is on.
func DefaultMinimalSupportedVersions() CompatTable {
	return CompatTable{
		7:  {Version: VersionInfo{Major: 7, Minor: 76}, MinBuild: 4},
		8:  {Version: VersionInfo{Major: 8, Minor: 25}, MinBuild: 17},
		11: {Version: VersionInfo{Major: 11, Minor: 0, Patch: 2}, MinBuild: 7},
		12: {Version: VersionInfo{Major: 12, Minor: 0, Patch: 1}, MinBuild: 12},
		13: {Version: VersionInfo{Major: 13, Minor: 0, Patch: 1}, MinBuild: 9},
		14: {Version: VersionInfo{Major: 14}, MinBuild: 33},
		15: {Version: VersionInfo{Major: 15, Minor: 0, Patch: 1}, MinBuild: 9},
		16: {Version: VersionInfo{Major: 16}, MinBuild: 36},
		17: {Version: VersionInfo{Major: 17, Minor: 0, Patch: 1}, MinBuild: 12},
		21: {Version: VersionInfo{Major: 21}, MinBuild: 35},
	}
}

// Check evaluates v against table.
//
// The result is nil iff v > entry.Version, or v == entry.Version and the build is
// at least entry.MinBuild. An unknown major fails closed.
func Check(v VersionInfo, table CompatTable) error {
	entry, ok := table[v.Major]
	if !ok {
		return &UnsupportedVersionError{Version: v}
	}

	switch c := v.Compare(entry.Version); {
	case c < 0:
		required := entry.Version
		return &UnsupportedVersionError{Version: v, Required: &required}
	case c == 0 && v.EffectiveBuild() < entry.MinBuild:
		return &UnsupportedBuildError{Version: v, MinBuild: entry.MinBuild}
	}
	return nil
}

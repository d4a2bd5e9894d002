package updater

import (
	"strconv"
	"strings"
)

// Version represents a parsed semantic version.
type Version struct {
	Major int
	Minor int
	Patch int
	isDev bool
}

// ParseVersion parses a version string such as "v1.2.3", "1.2.3", or "dev"/"dev-<commit>".
// Strings that don't look like a numeric semantic version are treated as dev builds.
func ParseVersion(s string) Version {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")

	if s == "" || strings.HasPrefix(s, "dev") {
		return Version{isDev: true}
	}

	// Strip any pre-release/build metadata (e.g. "1.2.3-rc1", "1.2.3+build").
	core := s
	if i := strings.IndexAny(core, "-+"); i != -1 {
		core = core[:i]
	}

	parts := strings.Split(core, ".")
	if len(parts) < 3 {
		return Version{isDev: true}
	}

	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	patch, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Version{isDev: true}
	}

	return Version{Major: major, Minor: minor, Patch: patch}
}

// IsDev reports whether the version is a development build (not a proper semantic version).
func (v Version) IsDev() bool {
	return v.isDev
}

// IsOlderThan reports whether v is older than other.
func (v Version) IsOlderThan(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

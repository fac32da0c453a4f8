// Package version reports the sidecar build version and compares peer client versions.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is overridden at build time with -ldflags "-X .../version.Version=1.2.3".
var Version = "dev"

// Normalize ensures version string has "v" prefix for semver compatibility.
// Examples: "1.2.3" -> "v1.2.3", "v1.2.3" -> "v1.2.3"
func Normalize(version string) string {
	if version == "" {
		return ""
	}
	version = strings.TrimSpace(version)
	if !strings.HasPrefix(version, "v") {
		return "v" + version
	}
	return version
}

// Current returns the running build version without the "v" prefix, or "dev".
func Current() string {
	v := Normalize(Version)
	if !semver.IsValid(v) {
		return "dev"
	}
	return strings.TrimPrefix(semver.Canonical(v), "v")
}

// AtLeast reports whether version satisfies minimum. An empty minimum accepts
// everything; a version that is not valid semver never satisfies a minimum.
func AtLeast(version, minimum string) bool {
	if minimum == "" {
		return true
	}
	v := Normalize(version)
	m := Normalize(minimum)
	if !semver.IsValid(v) || !semver.IsValid(m) {
		return false
	}
	return semver.Compare(v, m) >= 0
}

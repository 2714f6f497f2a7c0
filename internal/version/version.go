// Package version provides build version information for pyship.
// This is a separate package so both the CLI and the audit trail can
// stamp records without importing anything heavier.
package version

import "fmt"

// Version is the build version string, set by ldflags during release builds.
var Version = "dev"

// Commit is the short commit hash, set by ldflags during release builds.
var Commit = "unknown"

// String returns the human-readable version line used in logs and audit
// records, e.g. "pyship dev (unknown)".
func String() string {
	return fmt.Sprintf("pyship %s (%s)", Version, Commit)
}

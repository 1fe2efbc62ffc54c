// Package version carries build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags at release build time; the defaults identify a
// from-source build.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version line shown by the version command.
func String() string {
	return fmt.Sprintf("tributary %s (commit: %s, built: %s)", Version, Commit, Date)
}

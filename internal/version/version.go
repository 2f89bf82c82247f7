package version

import "fmt"

var (
	// Version is the release tag of freightctl, set with -ldflags at build time.
	Version = "dev"
	Commit  = "unknown"
	// BuildDate is an RFC3339 timestamp.
	BuildDate = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("freightctl %s (commit %s, built %s)", Version, Commit, BuildDate)
}

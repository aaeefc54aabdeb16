// Package version carries build metadata stamped in with -ldflags and
// recorded against every linking run.
package version

import "fmt"

var (
	// Version is the release tag of the linker.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for -version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}

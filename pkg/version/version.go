package version

import (
	"fmt"
	"runtime"
)

// Build information, set by compiler flags (-ldflags "-X ...") at release
// build time; the zero values below are what a `go build` without those
// flags produces.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// FullVersion returns the full version string printed by `quern version`.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// UserAgent returns the "Quern/<version>" identifier. No request in the
// module sets it; replays are sent by the interceptor process.
func UserAgent() string {
	return fmt.Sprintf("Quern/%s", Version)
}

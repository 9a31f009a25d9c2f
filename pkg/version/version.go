// Package version carries build metadata stamped in via ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Version, Commit, and Date are overridden at build time with
// -X github.com/artk0de/TeaRAGs-MCP-sub002/pkg/version.<Name>=<value>.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns the one-line version banner.
func String() string {
	return fmt.Sprintf("tearags %s (commit: %s, built: %s, go: %s, %s/%s)",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Package version holds the build metadata stamped in by -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the agent release.
	Version = "dev"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"

	// AsyncProfilerVersion is the bundled async-profiler release.
	AsyncProfilerVersion = "2.9"

	// GoVersion is the toolchain that built the binary.
	GoVersion = runtime.Version()
)

// Summary is the one-line build description logged at startup.
func Summary() string {
	return fmt.Sprintf("gprofiler-agent %s (commit %s, async-profiler %s, %s)", Version, GitCommit, AsyncProfilerVersion, GoVersion)
}

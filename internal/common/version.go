package common

import (
	"fmt"
	"time"
)

// Version information (set via -ldflags during build)
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

var startedAt = time.Now()

// GetVersion returns the current version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns version with build info
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}

// Uptime returns how long the process has been running
func Uptime() time.Duration {
	return time.Since(startedAt)
}

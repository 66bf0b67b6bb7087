// Package version exposes build metadata injected at link time via -ldflags.
package version

// Build metadata; overridden by the release build.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

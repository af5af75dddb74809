// Package version holds librarian's build identity.
package version

import (
	"runtime"
	"runtime/debug"
)

// These variables can be overridden at build time using ldflags:
// go build -ldflags "-X librarian/internal/version.Version=1.0.0 -X librarian/internal/version.Commit=abc123"
var (
	Version   = "0.4.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// commit returns the ldflags commit, falling back to the VCS revision the
// go toolchain embeds.
func commit() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := readBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return Commit
}

// Info returns a short version string, e.g. "0.4.0 (abc1234)".
func Info() string {
	if c := commit(); c != "unknown" && len(c) > 7 {
		return Version + " (" + c[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "librarian version " + Version + "\n" +
		"Commit: " + commit() + "\n" +
		"Built: " + BuildDate + "\n" +
		"Go: " + runtime.Version()
}

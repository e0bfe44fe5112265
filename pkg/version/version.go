// Package version exposes build information set at link time.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/systemed/conflation/pkg/version.BuildVersion=..."
var (
	BuildVersion = "dev"
	BuildCommit  = ""
	BuildDate    = ""
)

// Info returns version details for health output and metrics labels.
func Info() map[string]string {
	commit := BuildCommit
	if commit == "" {
		commit = vcsRevision()
	}
	return map[string]string{
		"version":    BuildVersion,
		"go_version": runtime.Version(),
		"commit":     commit,
		"build_date": BuildDate,
	}
}

// String returns a one-line version description.
func String() string {
	info := Info()
	if info["commit"] == "" {
		return fmt.Sprintf("conflate %s (%s)", info["version"], info["go_version"])
	}
	return fmt.Sprintf("conflate %s (%s, %s)", info["version"], info["commit"], info["go_version"])
}

// UserAgent is sent with every request to the map API.
func UserAgent() string {
	return "conflate/" + BuildVersion
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

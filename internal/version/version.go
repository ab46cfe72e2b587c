// Package version exposes build metadata injected via -ldflags.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the one-line version banner printed by `dictum version`.
func String() string {
	commit := Commit
	if commit == "none" {
		commit = vcsRevision()
	}
	return "dictum " + Version + " (commit=" + commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// vcsRevision falls back to the revision stamped by `go build` when ldflags were not set.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "none"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return "none"
}

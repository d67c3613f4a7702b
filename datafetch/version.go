package datafetch

import (
	"runtime"
	"runtime/debug"
)

// Build metadata, overridable with -ldflags "-X .../datafetch.Version=...".
var (
	Version   = "0.3.0"
	GitCommit = ""
	BuildDate = "unknown"
)

// UserAgent is the default User-Agent the HTTP fetcher sends upstream.
func UserAgent() string {
	return "dashgate/" + Version + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}

// commit falls back to the VCS revision stamped by the go tool.
func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	return "unknown"
}

// GetVersion returns the line printed by dashgate -version.
func GetVersion() string {
	return "dashgate " + Version + " (commit " + commit() + ", built " + BuildDate + ", " + runtime.Version() + ")"
}

// GetVersionInfo returns build metadata for the /health endpoint and the
// startup log line.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     commit(),
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"user_agent": UserAgent(),
	}
}

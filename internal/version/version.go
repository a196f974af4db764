// Package version reports the blutter build version.
package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Version and Commit are stamped by release builds:
//
//	go build -ldflags="-X github.com/aotkit/blutter/internal/version.Version=v1.2.3 \
//	                   -X github.com/aotkit/blutter/internal/version.Commit=abc123"
//
// Local builds fill them from the embedded VCS settings.
var (
	Version = ""
	Commit  = ""
)

const shortCommitLen = 7

func init() {
	var settings []debug.BuildSetting
	if info, ok := debug.ReadBuildInfo(); ok {
		settings = info.Settings
	}
	Version, Commit = resolve(Version, Commit, settings, time.Now())
}

// resolve fills whichever of version and commit is empty. A commit comes from
// vcs.revision, shortened and marked "-dirty" for modified trees. A version
// falls back to dev-<commit date>, or dev-<now> outside a checkout.
func resolve(version, commit string, settings []debug.BuildSetting, now time.Time) (string, string) {
	vcs := make(map[string]string, len(settings))
	for _, s := range settings {
		vcs[s.Key] = s.Value
	}

	if commit == "" {
		commit = "unknown"
		if rev := vcs["vcs.revision"]; rev != "" {
			if len(rev) > shortCommitLen {
				rev = rev[:shortCommitLen]
			}
			if vcs["vcs.modified"] == "true" {
				rev += "-dirty"
			}
			commit = rev
		}
	}

	if version == "" {
		version = "dev-" + now.Format("20060102-150405")
		if t, err := time.Parse(time.RFC3339, vcs["vcs.time"]); err == nil {
			version = "dev-" + t.Format("20060102")
		}
	}
	return version, commit
}

// Full returns the version with its commit, as printed by "blutter version".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// UserAgent identifies blutter in outbound HTTP requests made while fetching
// Dart SDK sources.
func UserAgent() string {
	return "blutter/" + Version
}

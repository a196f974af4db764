package version

import (
	"runtime/debug"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	vcs := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-02-14T08:00:00Z"},
	}

	tests := []struct {
		name        string
		version     string
		commit      string
		settings    []debug.BuildSetting
		wantVersion string
		wantCommit  string
	}{
		{
			name:        "stamped values are kept",
			version:     "v1.2.3",
			commit:      "abc123",
			settings:    vcs,
			wantVersion: "v1.2.3",
			wantCommit:  "abc123",
		},
		{
			name:        "from vcs settings",
			settings:    vcs,
			wantVersion: "dev-20260214",
			wantCommit:  "0123456",
		},
		{
			name: "modified tree",
			settings: append([]debug.BuildSetting{{Key: "vcs.modified", Value: "true"}},
				vcs...),
			wantVersion: "dev-20260214",
			wantCommit:  "0123456-dirty",
		},
		{
			name:        "short revision",
			settings:    []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
			wantVersion: "dev-20260301-123045",
			wantCommit:  "abc",
		},
		{
			name:        "no build info",
			wantVersion: "dev-20260301-123045",
			wantCommit:  "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotVersion, gotCommit := resolve(tt.version, tt.commit, tt.settings, now)
			if gotVersion != tt.wantVersion {
				t.Errorf("version = %q, want %q", gotVersion, tt.wantVersion)
			}
			if gotCommit != tt.wantCommit {
				t.Errorf("commit = %q, want %q", gotCommit, tt.wantCommit)
			}
		})
	}
}

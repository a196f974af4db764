package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aotkit/blutter/internal/build"
	"github.com/aotkit/blutter/internal/fetch"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		xdg := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", xdg)

		configDir, err := GetConfigDir()
		if err != nil {
			t.Fatalf("GetConfigDir() error = %v", err)
		}
		if want := filepath.Join(xdg, "blutter"); configDir != want {
			t.Errorf("GetConfigDir() = %v, want %v", configDir, want)
		}
		return
	}

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.Contains(configDir, "blutter") {
		t.Errorf("GetConfigDir() = %v, should contain 'blutter'", configDir)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestNewSettings(t *testing.T) {
	s := NewSettings()

	if s.Version != CurrentVersion {
		t.Errorf("Version = %v, want %v", s.Version, CurrentVersion)
	}
	if diff := cmp.Diff(build.DefaultTools(), s.BuildTools()); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}
	if s.SDK.Source != SourceGit {
		t.Errorf("SDK.Source = %q, want %q", s.SDK.Source, SourceGit)
	}
	if s.SDK.Repository != fetch.DefaultRepository {
		t.Errorf("SDK.Repository = %q", s.SDK.Repository)
	}
	if s.RemoteEnabled() {
		t.Error("remote cache should be off by default")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(NewSettings(), s); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_PartialFileGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
version: 1
root: /opt/blutter
tools:
  ninja: /usr/local/bin/ninja
remote_cache:
  bucket: dartvm
  prefix: libs/
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Root != "/opt/blutter" {
		t.Errorf("Root = %q", s.Root)
	}
	if s.Tools.Ninja != "/usr/local/bin/ninja" || s.Tools.CMake != "cmake" {
		t.Errorf("Tools = %+v", s.Tools)
	}
	if !s.RemoteEnabled() || s.RemoteCache.Prefix != "libs/" {
		t.Errorf("RemoteCache = %+v", s.RemoteCache)
	}
	if got := s.RemoteCache.S3Config(); got.Bucket != "dartvm" {
		t.Errorf("S3Config().Bucket = %q", got.Bucket)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "version: [", "failed to parse"},
		{"future version", "version: 2\n", "unsupported config version"},
		{"unknown source", "sdk:\n  source: svn\n", "sdk.source"},
		{"archive without placeholder", "sdk:\n  source: archive\n  archive_url: https://example.com/sdk.tar.gz\n", "{version}"},
		{"upload without bucket", "remote_cache:\n  upload: true\n", "remote_cache.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	s := NewSettings()
	s.Root = "/srv/blutter"
	s.SDK.Source = SourceArchive
	s.RemoteCache = &RemoteCache{Bucket: "dartvm", Region: "auto", Upload: true}

	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("permissions = %o, want 600", perm)
		}
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should be gone after Save()")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(s, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveRoot(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		dir := t.TempDir()
		s := NewSettings()
		s.Root = dir

		got, err := s.ResolveRoot()
		if err != nil {
			t.Fatal(err)
		}
		if got != dir {
			t.Errorf("ResolveRoot() = %q, want %q", got, dir)
		}
	})

	t.Run("executable directory", func(t *testing.T) {
		dir := t.TempDir()
		exe := filepath.Join(dir, "blutter")
		if err := os.WriteFile(exe, nil, 0755); err != nil {
			t.Fatal(err)
		}
		orig := executable
		executable = func() (string, error) { return exe, nil }
		t.Cleanup(func() { executable = orig })

		got, err := NewSettings().ResolveRoot()
		if err != nil {
			t.Fatal(err)
		}
		want, _ := filepath.EvalSymlinks(dir)
		if got != want {
			t.Errorf("ResolveRoot() = %q, want %q", got, want)
		}
	})

	t.Run("home relative", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Setenv("USERPROFILE", home)
		s := NewSettings()
		s.Root = "~/blutter"

		got, err := s.ResolveRoot()
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(home, "blutter"); got != want {
			t.Errorf("ResolveRoot() = %q, want %q", got, want)
		}
	})
}

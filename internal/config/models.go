package config

import (
	"github.com/aotkit/blutter/internal/build"
	"github.com/aotkit/blutter/internal/fetch"
)

// CurrentVersion is the settings schema version.
const CurrentVersion = 1

// Dart SDK source kinds.
const (
	SourceGit     = "git"
	SourceArchive = "archive"
)

// Settings is the whole configuration file.
type Settings struct {
	Version int `yaml:"version"`
	// Root is the blutter workspace. Empty means the directory holding the
	// running executable.
	Root        string       `yaml:"root,omitempty"`
	Tools       *Tools       `yaml:"tools,omitempty"`
	SDK         *SDKSource   `yaml:"sdk,omitempty"`
	RemoteCache *RemoteCache `yaml:"remote_cache,omitempty"`
}

// Tools names the build tool executables.
type Tools struct {
	CMake       string `yaml:"cmake"`
	Ninja       string `yaml:"ninja"`
	Brew        string `yaml:"brew"`
	LLVMFormula string `yaml:"llvm_formula"` // Homebrew formula providing clang on macOS
}

// SDKSource says where Dart SDK sources are downloaded from.
type SDKSource struct {
	Source     string `yaml:"source"` // "git" or "archive"
	Repository string `yaml:"repository"`
	ArchiveURL string `yaml:"archive_url"` // {version} is substituted
}

// RemoteCache is an optional S3-compatible bucket of prebuilt Dart VM
// libraries.
type RemoteCache struct {
	Bucket   string `yaml:"bucket"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Upload   bool   `yaml:"upload"` // publish locally built libraries
}

// NewSettings creates Settings with default values.
func NewSettings() *Settings {
	s := &Settings{Version: CurrentVersion}
	s.applyDefaults()
	return s
}

func (s *Settings) applyDefaults() {
	defaults := build.DefaultTools()
	if s.Tools == nil {
		s.Tools = &Tools{}
	}
	if s.Tools.CMake == "" {
		s.Tools.CMake = defaults.CMake
	}
	if s.Tools.Ninja == "" {
		s.Tools.Ninja = defaults.Ninja
	}
	if s.Tools.Brew == "" {
		s.Tools.Brew = defaults.Brew
	}
	if s.Tools.LLVMFormula == "" {
		s.Tools.LLVMFormula = defaults.LLVMFormula
	}

	if s.SDK == nil {
		s.SDK = &SDKSource{}
	}
	if s.SDK.Source == "" {
		s.SDK.Source = SourceGit
	}
	if s.SDK.Repository == "" {
		s.SDK.Repository = fetch.DefaultRepository
	}
	if s.SDK.ArchiveURL == "" {
		s.SDK.ArchiveURL = fetch.DefaultArchiveURL
	}
}

// BuildTools converts the tool settings for the build package.
func (s *Settings) BuildTools() build.Tools {
	return build.Tools{
		CMake:       s.Tools.CMake,
		Ninja:       s.Tools.Ninja,
		Brew:        s.Tools.Brew,
		LLVMFormula: s.Tools.LLVMFormula,
	}
}

// RemoteEnabled reports whether a remote cache bucket is configured.
func (s *Settings) RemoteEnabled() bool {
	return s.RemoteCache != nil && s.RemoteCache.Bucket != ""
}

// S3Config returns the bucket location for the fetch package.
func (r *RemoteCache) S3Config() fetch.S3Config {
	return fetch.S3Config{
		Bucket:   r.Bucket,
		Endpoint: r.Endpoint,
		Region:   r.Region,
	}
}

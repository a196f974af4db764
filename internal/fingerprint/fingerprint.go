// Package fingerprint turns an SDK descriptor and the requested feature flags
// into the identity of the analyzer executable that serves them.
package fingerprint

import (
	"fmt"
	"strings"

	"github.com/aotkit/blutter/internal/compat"
	"github.com/aotkit/blutter/internal/sdk"
)

// Identity tags, in the order they appear in artifact names.
const (
	TagNoCompressedPointers = "no-compressed-ptrs"
	TagNoAnalysis           = "no-analysis"
	TagIDAFunctionNames     = "ida-fcn"
)

// Code analysis needs Dart VM internals that only exist from 2.15 on.
const (
	analysisMinMajor = 2
	analysisMinMinor = 15
)

// Flags are the user-requested build options that change the artifact.
type Flags struct {
	NoAnalysis       bool
	IDAFunctionNames bool
}

// Enabled reports whether the compatibility flag name is on. It is the
// lookup compat.DeriveMacros expects.
func (f Flags) Enabled(name string) bool {
	switch name {
	case compat.FlagNoAnalysis:
		return f.NoAnalysis
	case compat.FlagIDAFunctionNames:
		return f.IDAFunctionNames
	}
	return false
}

// Policy selects what happens when analysis is requested for an SDK that
// cannot support it.
type Policy int

const (
	// ForceNoAnalysis silently turns analysis off and records a Notice.
	ForceNoAnalysis Policy = iota
	// RejectLegacy fails with a LegacyVersionError.
	RejectLegacy
)

// LegacyVersionError is returned under RejectLegacy when analysis was
// requested for an SDK older than 2.15.
type LegacyVersionError struct {
	Version sdk.Version
}

func (e *LegacyVersionError) Error() string {
	return fmt.Sprintf("Dart %s is older than %d.%d and does not support code analysis; rerun with --no-analysis",
		e.Version, analysisMinMajor, analysisMinMinor)
}

// Notice is a non-fatal diagnostic produced while deriving a configuration.
type Notice struct {
	Code    string
	Message string
}

// NoticeAnalysisDisabled marks a forced switch to no-analysis mode.
const NoticeAnalysisDisabled = "analysis_disabled"

// Identity is the artifact name: the base name plus an ordered list of tags.
// Two configurations share an Identity iff they need the same executable.
type Identity struct {
	BaseName string
	Tags     []string
}

// Suffix returns "_tag" for every tag, concatenated in order.
func (id Identity) Suffix() string {
	var b strings.Builder
	for _, tag := range id.Tags {
		b.WriteByte('_')
		b.WriteString(tag)
	}
	return b.String()
}

// Name returns the base name followed by the suffix.
func (id Identity) Name() string {
	return id.BaseName + id.Suffix()
}

// FileName returns the executable file name on goos.
func (id Identity) FileName(goos string) string {
	if goos == "windows" {
		return id.Name() + ".exe"
	}
	return id.Name()
}

// BuildDirName returns the name of this identity's build tree.
func (id Identity) BuildDirName() string {
	return id.Name()
}

func (id Identity) String() string {
	return id.Name()
}

// Config is everything one build needs, derived before any file is touched.
type Config struct {
	Descriptor sdk.Descriptor
	// Flags are the effective flags after the legacy policy was applied.
	Flags    Flags
	Identity Identity
	Notices  []Notice
}

// Compute derives the effective flags and identity for desc.
func Compute(desc sdk.Descriptor, flags Flags, policy Policy) (Config, error) {
	var notices []Notice

	if !flags.NoAnalysis && !SupportsAnalysis(desc.Version) {
		if policy == RejectLegacy {
			return Config{}, &LegacyVersionError{Version: desc.Version}
		}
		flags.NoAnalysis = true
		notices = append(notices, Notice{
			Code: NoticeAnalysisDisabled,
			Message: fmt.Sprintf("Dart %s is older than %d.%d; code analysis is disabled for this build",
				desc.Version, analysisMinMajor, analysisMinMinor),
		})
	}

	return Config{
		Descriptor: desc,
		Flags:      flags,
		Identity:   NewIdentity(desc, flags),
		Notices:    notices,
	}, nil
}

// SupportsAnalysis reports whether v is new enough for code analysis.
func SupportsAnalysis(v sdk.Version) bool {
	return v.AtLeast(analysisMinMajor, analysisMinMinor)
}

// NewIdentity builds the identity for desc and already-effective flags.
func NewIdentity(desc sdk.Descriptor, flags Flags) Identity {
	id := Identity{BaseName: "blutter_" + desc.LibName()}
	if !desc.CompressedPointers {
		id.Tags = append(id.Tags, TagNoCompressedPointers)
	}
	if flags.NoAnalysis {
		id.Tags = append(id.Tags, TagNoAnalysis)
	}
	if flags.IDAFunctionNames {
		id.Tags = append(id.Tags, TagIDAFunctionNames)
	}
	return id
}

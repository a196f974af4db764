// Package sdk describes which Dart VM runtime a build targets and where its
// compiled artifacts live on disk.
package sdk

import (
	"fmt"
	"strconv"
	"strings"
)

// VersionError reports a Dart version string that does not parse as a
// major.minor.patch triple.
type VersionError struct {
	Input  string
	Reason string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("invalid Dart version %q: %s", e.Input, e.Reason)
}

// Version is a parsed Dart SDK version. Raw keeps the original spelling, which
// is what the library naming uses (e.g. "3.6.0-216.1.beta").
type Version struct {
	Major int
	Minor int
	Patch int
	Pre   string
	Raw   string
}

// ParseVersion parses "X.Y.Z" with an optional "-pre" suffix on the patch.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	parts := strings.SplitN(raw, ".", 3)
	if len(parts) != 3 {
		return Version{}, &VersionError{Input: s, Reason: "expected major.minor.patch"}
	}

	patch, pre, _ := strings.Cut(parts[2], "-")
	v := Version{Pre: pre, Raw: raw}
	names := [3]string{"major", "minor", "patch"}
	texts := [3]string{parts[0], parts[1], patch}
	dsts := [3]*int{&v.Major, &v.Minor, &v.Patch}

	for i := range names {
		if texts[i] == "" {
			return Version{}, &VersionError{Input: s, Reason: "missing " + names[i] + " component"}
		}
		if strings.TrimLeft(texts[i], "0123456789") != "" {
			return Version{}, &VersionError{Input: s, Reason: names[i] + " component is not a non-negative integer"}
		}
		n, err := strconv.Atoi(texts[i])
		if err != nil {
			return Version{}, &VersionError{Input: s, Reason: names[i] + " component is not a non-negative integer"}
		}
		*dsts[i] = n
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants; it panics on bad input.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// AtLeast reports whether v >= major.minor, ignoring patch.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// String returns the version as it was written.
func (v Version) String() string {
	if v.Raw != "" {
		return v.Raw
	}
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Pre != "" {
		s += "-" + v.Pre
	}
	return s
}

// Descriptor identifies exactly which Dart VM revision and target platform a
// build is for. It is a value type and is never mutated after construction.
type Descriptor struct {
	Version            Version
	OS                 string
	Arch               string
	CompressedPointers bool
	SnapshotHash       string
}

// NewDescriptor builds a Descriptor. When compressed is nil the pointer mode
// is inferred from the OS: iOS builds never use compressed pointers.
func NewDescriptor(version, osName, arch string, compressed *bool, snapshotHash string) (Descriptor, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return Descriptor{}, err
	}
	if osName == "" || arch == "" {
		return Descriptor{}, fmt.Errorf("target os and architecture are required (got os=%q arch=%q)", osName, arch)
	}

	cp := osName != "ios"
	if compressed != nil {
		cp = *compressed
	}

	return Descriptor{
		Version:            v,
		OS:                 osName,
		Arch:               arch,
		CompressedPointers: cp,
		SnapshotHash:       snapshotHash,
	}, nil
}

// ParseTriple parses the "<version>_<os>_<arch>" form accepted by
// --dart-version, e.g. "3.4.2_android_arm64".
func ParseTriple(s string) (Descriptor, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return Descriptor{}, fmt.Errorf("invalid Dart version triple %q: expected <version>_<os>_<arch>", s)
	}
	return NewDescriptor(parts[0], parts[1], parts[2], nil, "")
}

// LibName is the canonical name of the compiled Dart VM static library for
// this descriptor.
func (d Descriptor) LibName() string {
	return fmt.Sprintf("dartvm%s_%s_%s", d.Version, d.OS, d.Arch)
}

// String returns a short human-readable description.
func (d Descriptor) String() string {
	return fmt.Sprintf("Dart %s (%s %s)", d.Version, d.OS, d.Arch)
}

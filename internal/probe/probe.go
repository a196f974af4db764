// Package probe reads the Dart SDK version, snapshot hash and build features
// out of a compiled Flutter application.
package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/aotkit/blutter/internal/sdk"
)

// FeatureCompressedPointers is the snapshot feature set by VMs built with
// compressed pointers.
const FeatureCompressedPointers = "compressed-pointers"

// Info is what a probe learns about an application.
type Info struct {
	Version      string
	SnapshotHash string
	// Flags are the snapshot feature tokens, e.g. "product", "null-safety".
	Flags []string
	Arch  string
	OS    string
}

// HasFlag reports whether the snapshot carries feature name.
func (i *Info) HasFlag(name string) bool {
	for _, f := range i.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// Descriptor converts the probe result into an SDK descriptor.
func (i *Info) Descriptor() (sdk.Descriptor, error) {
	compressed := i.HasFlag(FeatureCompressedPointers)
	return sdk.NewDescriptor(i.Version, i.OS, i.Arch, &compressed, i.SnapshotHash)
}

func (i *Info) String() string {
	return fmt.Sprintf("Dart version: %s, Snapshot: %s, Target: %s %s\nflags: %s",
		i.Version, i.SnapshotHash, i.OS, i.Arch, strings.Join(i.Flags, " "))
}

// Probe extracts Info from the snapshot image and the engine image.
type Probe interface {
	Probe(ctx context.Context, appPath, enginePath string) (*Info, error)
}

// Error reports an image the probe could not interpret.
type Error struct {
	// Image is the path of the offending file
	Image string
	// Reason says what was expected and not found
	Reason string
	// Underlying error if any
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("cannot read Dart metadata from %s: %s", e.Image, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

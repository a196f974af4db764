package build

import (
	"fmt"
	"strings"
)

// Stages of an analyzer build.
const (
	StageToolchain = "toolchain"
	StageConfigure = "configure"
	StageCompile   = "compile"
	StageInstall   = "install"
	StageSolution  = "solution"
)

// Error is a failed build step.
type Error struct {
	// Stage is one of the Stage constants
	Stage string
	// Command is the command line that failed
	Command string
	// ExitCode is the child's exit code, or -1 if it never ran
	ExitCode int
	// Output is the tail of the child's stderr
	Output string
	// Underlying error
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("build %s step failed (exit code %d): %s", e.Stage, e.ExitCode, e.Command)
	if e.Err != nil && e.ExitCode < 0 {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ArtifactMissingError means every build step succeeded but the analyzer
// executable was not installed where the cache expects it. This usually
// points at a NAME_SUFFIX or install rule mismatch in the CMake project.
type ArtifactMissingError struct {
	Path     string
	Identity string
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("build of %s reported success but %s does not exist\n"+
		"Hint: check the install() rules of the analyzer CMake project.",
		e.Identity, e.Path)
}

package pipeline

import (
	"fmt"
)

// StateError wraps the failure that moved a run to StateFailed.
type StateError struct {
	// State is where the run was when it failed
	State State
	// Underlying error
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// ExecutionError reports that the analyzer itself exited non-zero.
type ExecutionError struct {
	Artifact string
	// ExitCode is the analyzer's exit code, or -1 if it did not start
	ExitCode int
	// Underlying error
	Err error
}

func (e *ExecutionError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("failed to run %s: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d", e.Artifact, e.ExitCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

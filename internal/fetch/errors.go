package fetch

import (
	"fmt"
)

// Stages of a Dart VM library fetch.
const (
	StageRemote = "remote"
	StageSource = "source"
	StageBuild  = "build"
	StageUpload = "upload"
)

// Error is a failed fetch-and-build stage. It aborts the run.
type Error struct {
	// Stage is one of the Stage constants
	Stage string
	// LibName is the library being produced
	LibName string
	// Underlying error
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetching %s failed at %s stage: %v", e.LibName, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/aotkit/blutter/internal/build"
)

// Executor runs an installed analyzer against a snapshot image.
type Executor interface {
	Execute(ctx context.Context, artifact, appPath, outDir string) error
}

// RunnerExecutor runs the analyzer through a build.Runner.
type RunnerExecutor struct {
	Runner build.Runner
	Stdout io.Writer
	Stderr io.Writer
}

// Execute implements Executor as `<artifact> -i <app> -o <outdir>`.
func (e *RunnerExecutor) Execute(ctx context.Context, artifact, appPath, outDir string) error {
	err := e.Runner.Run(ctx, build.Command{
		Stage:  string(StateExecute),
		Name:   artifact,
		Args:   []string{"-i", appPath, "-o", outDir},
		Stdout: e.Stdout,
		Stderr: e.Stderr,
	})
	if err == nil {
		return nil
	}

	execErr := &ExecutionError{Artifact: artifact, ExitCode: -1, Err: err}
	var cmdErr *build.CommandError
	if errors.As(err, &cmdErr) {
		execErr.ExitCode = cmdErr.ExitCode
	}
	return execErr
}

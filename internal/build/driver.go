// Package build drives the CMake/Ninja build of the analyzer executable for
// one configuration and checks that it produced what it promised.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/aotkit/blutter/internal/fingerprint"
	"github.com/aotkit/blutter/internal/sdk"
)

// Request is one analyzer build.
type Request struct {
	Config fingerprint.Config
	// Macros are the compatibility defines, already in table order.
	Macros []string
}

// Result describes an installed analyzer executable.
type Result struct {
	ArtifactPath string
	BuildDir     string
	// Digest is the blake3 hex digest of the installed executable.
	Digest   string
	Size     int64
	Duration time.Duration
}

// SolutionRequest asks for a Visual Studio project instead of a build.
type SolutionRequest struct {
	Config fingerprint.Config
	Macros []string
	// AppPath is the snapshot image the debug command line points at.
	AppPath string
	// OutDir receives the generated solution.
	OutDir string
}

// Driver runs the analyzer build steps through a Runner.
type Driver struct {
	layout    sdk.Layout
	goos      string
	tools     Tools
	runner    Runner
	toolchain *Toolchain
	logger    *zap.Logger

	// Stdout and Stderr receive tool output. Nil means the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// NewDriver creates a Driver for layout on goos.
func NewDriver(layout sdk.Layout, goos string, tools Tools, runner Runner, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		layout:    layout,
		goos:      goos,
		tools:     tools,
		runner:    runner,
		toolchain: NewToolchain(goos, tools, runner, logger),
		logger:    logger,
	}
}

// ArtifactPath returns where the install step must put the executable for id.
func (d *Driver) ArtifactPath(id fingerprint.Identity) string {
	return filepath.Join(d.layout.BinDir(), id.FileName(d.goos))
}

// BuildDir returns the isolated build tree for id.
func (d *Driver) BuildDir(id fingerprint.Identity) string {
	return filepath.Join(d.layout.BuildDir(), id.BuildDirName())
}

// Build configures, compiles and installs the analyzer for req, then checks
// the executable exists.
func (d *Driver) Build(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	id := req.Config.Identity
	buildDir := d.BuildDir(id)

	d.logger.Info("Building analyzer",
		zap.String("identity", id.Name()),
		zap.String("lib_name", req.Config.Descriptor.LibName()),
		zap.Strings("macros", req.Macros),
		zap.String("path", buildDir))

	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	env, err := d.toolchain.Env(ctx)
	if err != nil {
		return nil, err
	}

	configure := Command{
		Stage: StageConfigure,
		Name:  d.tools.CMake,
		Args: append([]string{
			"-GNinja",
			"-B", buildDir,
			"-DDARTLIB=" + req.Config.Descriptor.LibName(),
			"-DNAME_SUFFIX=" + id.Suffix(),
			"-DCMAKE_BUILD_TYPE=Release",
			"--log-level=NOTICE",
		}, req.Macros...),
		Dir: d.layout.SourceDir(),
		Env: env,
	}
	compile := Command{
		Stage: StageCompile,
		Name:  d.tools.Ninja,
		Dir:   buildDir,
	}
	install := Command{
		Stage: StageInstall,
		Name:  d.tools.CMake,
		Args:  []string{"--install", "."},
		Dir:   buildDir,
	}

	for _, cmd := range []Command{configure, compile, install} {
		if err := d.run(ctx, cmd); err != nil {
			return nil, err
		}
	}

	result, err := d.VerifyArtifact(id)
	if err != nil {
		return nil, err
	}
	result.BuildDir = buildDir
	result.Duration = time.Since(start)

	d.logger.Info("Analyzer built",
		zap.String("identity", id.Name()),
		zap.String("path", result.ArtifactPath),
		zap.String("blake3", result.Digest),
		zap.Int64("size", result.Size),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// VerifyArtifact checks that the executable for id is installed and hashes
// it. A missing executable is an *ArtifactMissingError.
func (d *Driver) VerifyArtifact(id fingerprint.Identity) (*Result, error) {
	path := d.ArtifactPath(id)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, &ArtifactMissingError{Path: path, Identity: id.Name()}
	}

	digest, err := fileDigest(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return &Result{ArtifactPath: path, Digest: digest, Size: info.Size()}, nil
}

// GenerateSolution writes a Visual Studio project for the analyzer into
// req.OutDir and copies the runtime DLLs next to the debug executable.
func (d *Driver) GenerateSolution(ctx context.Context, req SolutionRequest) error {
	id := req.Config.Identity

	outDir, err := filepath.Abs(req.OutDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	dbgCmd := fmt.Sprintf("-i %s -o %s", req.AppPath, filepath.Join(outDir, "out"))

	d.logger.Info("Generating Visual Studio solution",
		zap.String("identity", id.Name()),
		zap.String("path", outDir),
		zap.Strings("macros", req.Macros))

	args := []string{
		"-G", "Visual Studio 17 2022",
		"-A", "x64",
		"-B", outDir,
		"-DDARTLIB=" + req.Config.Descriptor.LibName(),
		"-DNAME_SUFFIX=" + id.Suffix(),
		"-DDBG_CMD:STRING=" + dbgCmd,
	}
	args = append(args, req.Macros...)
	args = append(args, d.layout.SourceDir())

	if err := d.run(ctx, Command{Stage: StageSolution, Name: d.tools.CMake, Args: args}); err != nil {
		return err
	}

	debugDir := filepath.Join(outDir, "Debug")
	if err := os.MkdirAll(debugDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", debugDir, err)
	}

	dlls, err := filepath.Glob(filepath.Join(d.layout.BinDir(), "*.dll"))
	if err != nil {
		return err
	}
	for _, dll := range dlls {
		if err := copyFile(dll, filepath.Join(debugDir, filepath.Base(dll))); err != nil {
			return fmt.Errorf("failed to copy %s: %w", filepath.Base(dll), err)
		}
	}

	d.logger.Debug("Copied runtime libraries", zap.Int("count", len(dlls)), zap.String("path", debugDir))
	return nil
}

func (d *Driver) run(ctx context.Context, cmd Command) error {
	cmd.Stdout = d.Stdout
	cmd.Stderr = d.Stderr
	if err := d.runner.Run(ctx, cmd); err != nil {
		return stepError(cmd.Stage, cmd, err)
	}
	return nil
}

func stepError(stage string, cmd Command, err error) error {
	buildErr := &Error{
		Stage:    stage,
		Command:  cmd.String(),
		ExitCode: -1,
		Err:      err,
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		buildErr.ExitCode = cmdErr.ExitCode
		buildErr.Output = cmdErr.Output
	}
	return buildErr
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

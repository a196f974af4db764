// Package fetch produces the compiled Dart VM static library and headers for
// an SDK descriptor: from a remote prebuilt bundle when one is configured,
// otherwise by fetching the Dart SDK sources and building them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/build"
	"github.com/aotkit/blutter/internal/sdk"
)

// SourceProvider places the Dart SDK sources for a version into dir.
type SourceProvider interface {
	Fetch(ctx context.Context, version sdk.Version, dir string) error
}

// Fetcher implements the cache's fetch-and-build collaborator.
type Fetcher struct {
	layout  sdk.Layout
	goos    string
	tools   build.Tools
	runner  build.Runner
	source  SourceProvider
	remote  RemoteStore
	prefix  string
	upload  bool
	logger  *zap.Logger
	toolenv *build.Toolchain

	// Stdout and Stderr receive build tool output. Nil means the process
	// streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Options configure a Fetcher.
type Options struct {
	Layout sdk.Layout
	GOOS   string
	Tools  build.Tools
	Runner build.Runner
	Source SourceProvider
	// Remote is optional. When set, bundles are looked up before building
	// and, if Upload is true, published after.
	Remote RemoteStore
	Prefix string
	Upload bool
}

// New creates a Fetcher.
func New(opts Options, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		layout:  opts.Layout,
		goos:    opts.GOOS,
		tools:   opts.Tools,
		runner:  opts.Runner,
		source:  opts.Source,
		remote:  opts.Remote,
		prefix:  opts.Prefix,
		upload:  opts.Upload,
		logger:  logger,
		toolenv: build.NewToolchain(opts.GOOS, opts.Tools, opts.Runner, logger),
	}
}

// BundleKey returns the object key of the prebuilt bundle for desc.
func (f *Fetcher) BundleKey(desc sdk.Descriptor) string {
	return f.prefix + desc.LibName() + "-" + f.goos + ".tar.zst"
}

// FetchAndBuild makes the static library and headers for desc available under
// packages/ and returns the library path.
func (f *Fetcher) FetchAndBuild(ctx context.Context, desc sdk.Descriptor) (string, error) {
	libPath := f.layout.StaticLibPath(desc, f.goos)

	if f.remote != nil {
		ok, err := f.fetchBundle(ctx, desc)
		if err != nil {
			// The remote cache is an optimisation; fall through to a local build.
			f.logger.Warn("Prebuilt bundle unavailable",
				zap.String("lib_name", desc.LibName()),
				zap.Error(&Error{Stage: StageRemote, LibName: desc.LibName(), Err: err}))
		}
		if ok && fileExists(libPath) {
			return libPath, nil
		}
	}

	srcDir := f.layout.SDKSourceDir(desc)
	if err := f.ensureSource(ctx, desc, srcDir); err != nil {
		return "", &Error{Stage: StageSource, LibName: desc.LibName(), Err: err}
	}

	if err := f.buildLibrary(ctx, desc, srcDir); err != nil {
		return "", &Error{Stage: StageBuild, LibName: desc.LibName(), Err: err}
	}
	if !fileExists(libPath) {
		return "", &Error{
			Stage:   StageBuild,
			LibName: desc.LibName(),
			Err:     fmt.Errorf("build finished but %s was not installed", libPath),
		}
	}

	if f.remote != nil && f.upload {
		if err := f.publishBundle(ctx, desc); err != nil {
			f.logger.Warn("Failed to publish prebuilt bundle",
				zap.String("lib_name", desc.LibName()),
				zap.Error(&Error{Stage: StageUpload, LibName: desc.LibName(), Err: err}))
		}
	}

	return libPath, nil
}

// sourceCompleteFile is written into a Dart SDK source tree once the
// provider has placed all of it.
const sourceCompleteFile = ".blutter-source-complete"

func (f *Fetcher) ensureSource(ctx context.Context, desc sdk.Descriptor, srcDir string) error {
	marker := filepath.Join(srcDir, sourceCompleteFile)
	if fileExists(marker) {
		f.logger.Debug("Dart SDK sources present", zap.String("path", srcDir))
		return nil
	}
	if f.source == nil {
		return errors.New("no Dart SDK source provider configured")
	}

	// Partial checkouts from an interrupted run are discarded.
	if err := os.RemoveAll(srcDir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(srcDir), 0755); err != nil {
		return err
	}

	f.logger.Info("Fetching Dart SDK sources",
		zap.String("version", desc.Version.String()),
		zap.String("path", srcDir))
	if err := f.source.Fetch(ctx, desc.Version, srcDir); err != nil {
		os.RemoveAll(srcDir)
		return err
	}
	return os.WriteFile(marker, []byte(desc.Version.String()+"\n"), 0644)
}

func (f *Fetcher) buildLibrary(ctx context.Context, desc sdk.Descriptor, srcDir string) error {
	buildDir := filepath.Join(f.layout.BuildDir(), desc.LibName())
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return err
	}

	env, err := f.toolenv.Env(ctx)
	if err != nil {
		return err
	}

	compressed := "OFF"
	if desc.CompressedPointers {
		compressed = "ON"
	}

	steps := []build.Command{
		{
			Stage: build.StageConfigure,
			Name:  f.tools.CMake,
			Args: []string{
				"-GNinja",
				"-S", f.layout.VMProjectDir(),
				"-B", buildDir,
				"-DDARTSDK=" + srcDir,
				"-DTARGET_OS=" + desc.OS,
				"-DTARGET_ARCH=" + desc.Arch,
				"-DCOMPRESSED_PTRS=" + compressed,
				"-DDART_VERSION=" + desc.Version.String(),
				"-DCMAKE_BUILD_TYPE=Release",
				"-DCMAKE_INSTALL_PREFIX=" + filepath.Join(f.layout.Root, "packages"),
				"--log-level=NOTICE",
			},
			Env: env,
		},
		{
			Stage: build.StageCompile,
			Name:  f.tools.Ninja,
			Dir:   buildDir,
		},
		{
			Stage: build.StageInstall,
			Name:  f.tools.CMake,
			Args:  []string{"--install", "."},
			Dir:   buildDir,
		},
	}

	f.logger.Info("Building Dart VM library",
		zap.String("lib_name", desc.LibName()),
		zap.String("path", buildDir))

	for _, step := range steps {
		step.Stdout = f.Stdout
		step.Stderr = f.Stderr
		if err := f.runner.Run(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

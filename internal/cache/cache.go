// Package cache decides whether an installed analyzer executable can be
// reused, makes sure the Dart VM library a build links against exists, and
// serialises builds of the same identity across processes.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/fingerprint"
	"github.com/aotkit/blutter/internal/sdk"
)

// Decision is the outcome of a cache lookup.
type Decision int

const (
	// Reuse means the executable exists and no rebuild was requested.
	Reuse Decision = iota
	// Build means the executable must be (re)built.
	Build
)

func (d Decision) String() string {
	switch d {
	case Reuse:
		return "reuse"
	case Build:
		return "build"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Lookup is a cache decision together with the artifact path it refers to.
type Lookup struct {
	Decision Decision
	Path     string
}

// Fetcher obtains and compiles the Dart VM library for a descriptor.
type Fetcher interface {
	FetchAndBuild(ctx context.Context, desc sdk.Descriptor) (string, error)
}

// LibraryMissingError is returned when the fetcher reported success but the
// static library is still not where the build expects it.
type LibraryMissingError struct {
	Path string
}

func (e *LibraryMissingError) Error() string {
	return fmt.Sprintf("Dart VM library %s is missing after fetch and build", e.Path)
}

// lockRetryDelay is how long a blocked build waits before trying the lock
// again.
var lockRetryDelay = 2 * time.Second

// Cache is the artifact store rooted at a workspace Layout.
type Cache struct {
	layout sdk.Layout
	goos   string
	logger *zap.Logger
}

// New creates a cache over layout for executables named for goos.
func New(layout sdk.Layout, goos string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{layout: layout, goos: goos, logger: logger}
}

// Layout returns the workspace layout the cache operates on.
func (c *Cache) Layout() sdk.Layout {
	return c.layout
}

// ArtifactPath returns where the executable for id is installed.
func (c *Cache) ArtifactPath(id fingerprint.Identity) string {
	return filepath.Join(c.layout.BinDir(), id.FileName(c.goos))
}

// BuildDir returns the build tree for id.
func (c *Cache) BuildDir(id fingerprint.Identity) string {
	return filepath.Join(c.layout.BuildDir(), id.BuildDirName())
}

// Decide looks up id. It never inspects file contents: a regular file at the
// artifact path is reused unless force is set.
func (c *Cache) Decide(id fingerprint.Identity, force bool) Lookup {
	path := c.ArtifactPath(id)
	lookup := Lookup{Decision: Build, Path: path}

	if !force && isRegularFile(path) {
		lookup.Decision = Reuse
	}

	c.logger.Debug("Cache decision",
		zap.String("identity", id.Name()),
		zap.String("path", path),
		zap.Bool("force", force),
		zap.Stringer("decision", lookup.Decision))
	return lookup
}

// EnsureLibrary makes sure the compiled Dart VM library for desc exists,
// calling fetcher only when it does not. Every identity built on desc shares
// its sources, build tree and installed library, so fetching happens under
// the lock file build/<libName>.lock.
func (c *Cache) EnsureLibrary(ctx context.Context, desc sdk.Descriptor, fetcher Fetcher) (string, error) {
	libPath := c.layout.StaticLibPath(desc, c.goos)
	if isRegularFile(libPath) {
		c.logger.Debug("Dart VM library present", zap.String("path", libPath))
		return libPath, nil
	}

	if err := os.MkdirAll(c.layout.BuildDir(), 0755); err != nil {
		return "", fmt.Errorf("failed to create build directory: %w", err)
	}
	lockPath := filepath.Join(c.layout.BuildDir(), desc.LibName()+".lock")
	c.logger.Debug("Acquiring library lock", zap.String("path", lockPath))

	err := fslock.WithBlocking(lockPath, c.blocker(ctx, lockPath), func() error {
		// Another run may have installed it while we waited.
		if isRegularFile(libPath) {
			c.logger.Debug("Dart VM library installed by another run", zap.String("path", libPath))
			return nil
		}

		c.logger.Info("Dart VM library not found, fetching",
			zap.String("lib_name", desc.LibName()),
			zap.String("path", libPath))

		if _, err := fetcher.FetchAndBuild(ctx, desc); err != nil {
			return err
		}
		if !isRegularFile(libPath) {
			return &LibraryMissingError{Path: libPath}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return libPath, nil
}

// WithBuildLock runs fn while holding the per-identity lock file
// build/<name>.lock. A held lock is retried until ctx is done.
func (c *Cache) WithBuildLock(ctx context.Context, id fingerprint.Identity, fn func() error) error {
	if err := os.MkdirAll(c.layout.BuildDir(), 0755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}

	lockPath := filepath.Join(c.layout.BuildDir(), id.BuildDirName()+".lock")
	c.logger.Debug("Acquiring build lock", zap.String("path", lockPath))

	return fslock.WithBlocking(lockPath, c.blocker(ctx, lockPath), fn)
}

func (c *Cache) blocker(ctx context.Context, lockPath string) fslock.Blocker {
	return func() error {
		c.logger.Info("Lock held by another process, waiting",
			zap.String("path", lockPath),
			zap.Duration("retry_in", lockRetryDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
			return nil
		}
	}
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

package fetch

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/klauspost/pgzip"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/sdk"
	"github.com/aotkit/blutter/internal/version"
)

// DefaultRepository is the upstream Dart SDK repository.
const DefaultRepository = "https://github.com/dart-lang/sdk.git"

// DefaultArchiveURL is the tag tarball template; {version} is substituted.
const DefaultArchiveURL = "https://github.com/dart-lang/sdk/archive/refs/tags/{version}.tar.gz"

// GitSource shallow-clones the Dart SDK at the version tag.
type GitSource struct {
	Repository string
	// Progress receives clone progress. Nil disables it.
	Progress io.Writer
	logger   *zap.Logger
}

// NewGitSource creates a GitSource for repository.
func NewGitSource(repository string, progress io.Writer, logger *zap.Logger) *GitSource {
	if repository == "" {
		repository = DefaultRepository
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitSource{Repository: repository, Progress: progress, logger: logger}
}

// Fetch implements SourceProvider.
func (g *GitSource) Fetch(ctx context.Context, v sdk.Version, dir string) error {
	ref := plumbing.NewTagReferenceName(v.String())
	g.logger.Info("Cloning Dart SDK",
		zap.String("repository", g.Repository),
		zap.String("ref", ref.String()),
		zap.String("path", dir))

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           g.Repository,
		ReferenceName: ref,
		SingleBranch:  true,
		Depth:         1,
		Tags:          git.NoTags,
		Progress:      g.Progress,
	})
	if err != nil {
		return fmt.Errorf("git clone of %s at %s failed: %w", g.Repository, ref.Short(), err)
	}
	return nil
}

// ArchiveSource downloads and unpacks a source tarball.
type ArchiveSource struct {
	// URLTemplate is the download URL with {version} in place of the version.
	URLTemplate string
	Client      *http.Client
	// Progress receives the download progress bar. Nil disables it.
	Progress io.Writer
	logger   *zap.Logger
}

// NewArchiveSource creates an ArchiveSource.
func NewArchiveSource(urlTemplate string, progress io.Writer, logger *zap.Logger) *ArchiveSource {
	if urlTemplate == "" {
		urlTemplate = DefaultArchiveURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSource{
		URLTemplate: urlTemplate,
		Client:      http.DefaultClient,
		Progress:    progress,
		logger:      logger,
	}
}

// URL returns the download URL for v.
func (a *ArchiveSource) URL(v sdk.Version) string {
	return strings.ReplaceAll(a.URLTemplate, "{version}", v.String())
}

// Fetch implements SourceProvider.
func (a *ArchiveSource) Fetch(ctx context.Context, v sdk.Version, dir string) error {
	url := a.URL(v)
	a.logger.Info("Downloading Dart SDK", zap.String("url", url), zap.String("path", dir))

	tmp, err := os.CreateTemp("", "dartsdk-*.download")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := a.download(ctx, url, tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return unpackSourceArchive(url, tmp, dir)
}

func (a *ArchiveSource) download(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download of %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed: %s", url, resp.Status)
	}

	if a.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(a.Progress),
			progressbar.OptionSetDescription("Downloading Dart SDK "),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		w = io.MultiWriter(w, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download of %s interrupted: %w", url, err)
	}
	return nil
}

// unpackSourceArchive extracts a .tar.gz or .tar.xz into dir, dropping the
// archive's top-level directory.
func unpackSourceArchive(name string, r io.Reader, dir string) error {
	var decompressed io.Reader
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		decompressed = gz
	case strings.HasSuffix(name, ".tar.xz"):
		xzr, err := xz.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create xz reader: %w", err)
		}
		decompressed = xzr
	default:
		return fmt.Errorf("unsupported archive format: %s", name)
	}

	return extractTar(tar.NewReader(decompressed), dir, true)
}

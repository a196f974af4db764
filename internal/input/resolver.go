// Package input locates the Dart AOT snapshot and the Flutter engine inside a
// directory or an application archive.
package input

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// Image kinds reported in NotFoundError.
const (
	ImageApp    = "app snapshot"
	ImageEngine = "flutter engine"
)

// Candidate names, primary first.
var (
	dirAppCandidates    = []string{"libapp.so", "App"}
	dirEngineCandidates = []string{"libflutter.so", "Flutter"}

	apkAppEntry    = "lib/arm64-v8a/libapp.so"
	apkEngineEntry = "lib/arm64-v8a/libflutter.so"

	ipaAppPattern    = "Payload/*.app/Frameworks/App.framework/App"
	ipaEnginePattern = "Payload/*.app/Frameworks/Flutter.framework/Flutter"
)

// Inputs are the two resolved image paths. When they were extracted from an
// archive they live in a scratch directory that Close removes.
type Inputs struct {
	AppPath    string
	EnginePath string

	scratch string
}

// Scratch returns the extraction directory, or "" for directory input.
func (in *Inputs) Scratch() string {
	return in.scratch
}

// Close removes the scratch directory. It is safe to call more than once.
func (in *Inputs) Close() error {
	if in == nil || in.scratch == "" {
		return nil
	}
	dir := in.scratch
	in.scratch = ""
	return os.RemoveAll(dir)
}

// Resolver finds input images.
type Resolver struct {
	// TempDir is where scratch directories are created. Empty means
	// os.TempDir().
	TempDir string
	logger  *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve locates both images in a directory, .apk or .ipa.
func (r *Resolver) Resolve(inputPath string) (*Inputs, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read input %s: %w", inputPath, err)
	}

	if info.IsDir() {
		return r.resolveDir(inputPath)
	}

	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".apk":
		return r.resolveArchive(inputPath, exactEntry(apkAppEntry), exactEntry(apkEngineEntry))
	case ".ipa":
		return r.resolveArchive(inputPath, globEntry(ipaAppPattern), globEntry(ipaEnginePattern))
	default:
		return nil, &UnsupportedError{Path: inputPath}
	}
}

// ResolveBare accepts a single snapshot image for runs where the SDK version
// is supplied by the caller. No engine image is needed.
func (r *Resolver) ResolveBare(imagePath string) (*Inputs, error) {
	info, err := os.Stat(imagePath)
	if err != nil || !info.Mode().IsRegular() {
		return nil, &NotFoundError{Input: imagePath, Image: ImageApp, Candidates: []string{filepath.Base(imagePath)}}
	}
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, err
	}
	return &Inputs{AppPath: abs}, nil
}

func (r *Resolver) resolveDir(dir string) (*Inputs, error) {
	app, err := findInDir(dir, ImageApp, dirAppCandidates)
	if err != nil {
		return nil, err
	}
	engine, err := findInDir(dir, ImageEngine, dirEngineCandidates)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Resolved directory input",
		zap.String("app", app),
		zap.String("engine", engine))
	return &Inputs{AppPath: app, EnginePath: engine}, nil
}

func findInDir(dir, image string, candidates []string) (string, error) {
	for _, name := range candidates {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return filepath.Abs(p)
		}
	}
	return "", &NotFoundError{Input: dir, Image: image, Candidates: candidates}
}

// entryMatcher selects one archive entry and describes itself for errors.
type entryMatcher struct {
	describe string
	match    func(name string) bool
}

func exactEntry(name string) entryMatcher {
	return entryMatcher{describe: name, match: func(n string) bool { return n == name }}
}

func globEntry(pattern string) entryMatcher {
	return entryMatcher{describe: pattern, match: func(n string) bool {
		ok, err := path.Match(pattern, n)
		return err == nil && ok
	}}
}

func (r *Resolver) resolveArchive(archivePath string, app, engine entryMatcher) (inputs *Inputs, err error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("cannot open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	appFile := findEntry(zr.File, app)
	if appFile == nil {
		return nil, &NotFoundError{Input: archivePath, Image: ImageApp, Candidates: []string{app.describe}}
	}
	engineFile := findEntry(zr.File, engine)
	if engineFile == nil {
		return nil, &NotFoundError{Input: archivePath, Image: ImageEngine, Candidates: []string{engine.describe}}
	}

	scratch, err := os.MkdirTemp(r.TempDir, "blutter-input-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	inputs = &Inputs{scratch: scratch}
	defer func() {
		if err != nil {
			inputs.Close()
			inputs = nil
		}
	}()

	if inputs.AppPath, err = extractEntry(appFile, scratch); err != nil {
		return inputs, err
	}
	if inputs.EnginePath, err = extractEntry(engineFile, scratch); err != nil {
		return inputs, err
	}

	r.logger.Debug("Extracted archive input",
		zap.String("archive", archivePath),
		zap.String("path", scratch))
	return inputs, nil
}

func findEntry(files []*zip.File, m entryMatcher) *zip.File {
	for _, f := range files {
		if !f.FileInfo().IsDir() && m.match(f.Name) {
			return f
		}
	}
	return nil
}

// extractEntry writes f into dir under its base name. Entry paths are never
// joined onto dir, so archive names cannot escape it.
func extractEntry(f *zip.File, dir string) (string, error) {
	target := filepath.Join(dir, path.Base(f.Name))

	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return target, nil
}

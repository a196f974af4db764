package input

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestResolver(t *testing.T) *Resolver {
	r := NewResolver(zap.NewNop())
	r.TempDir = t.TempDir()
	return r
}

func TestResolve_Directory(t *testing.T) {
	tests := []struct {
		name       string
		files      []string
		wantApp    string
		wantEngine string
	}{
		{"primary names", []string{"libapp.so", "libflutter.so"}, "libapp.so", "libflutter.so"},
		{"fallback names only", []string{"App", "Flutter"}, "App", "Flutter"},
		{"primary wins", []string{"libapp.so", "App", "libflutter.so", "Flutter"}, "libapp.so", "libflutter.so"},
		{"mixed", []string{"App", "libflutter.so"}, "App", "libflutter.so"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				touch(t, dir, f)
			}

			inputs, err := newTestResolver(t).Resolve(dir)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			defer inputs.Close()

			if filepath.Base(inputs.AppPath) != tt.wantApp {
				t.Errorf("AppPath = %q, want %s", inputs.AppPath, tt.wantApp)
			}
			if filepath.Base(inputs.EnginePath) != tt.wantEngine {
				t.Errorf("EnginePath = %q, want %s", inputs.EnginePath, tt.wantEngine)
			}
			if !filepath.IsAbs(inputs.AppPath) {
				t.Error("expected absolute paths")
			}
			if inputs.Scratch() != "" {
				t.Error("directory input must not create a scratch dir")
			}
		})
	}
}

func TestResolve_DirectoryMissingEngine(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "libapp.so")

	_, err := newTestResolver(t).Resolve(dir)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if nf.Image != ImageEngine {
		t.Errorf("Image = %q, want %q", nf.Image, ImageEngine)
	}
	if len(nf.Candidates) != 2 {
		t.Errorf("Candidates = %v", nf.Candidates)
	}
}

func TestResolve_APK(t *testing.T) {
	apk := filepath.Join(t.TempDir(), "app-release.apk")
	writeZip(t, apk, map[string]string{
		"AndroidManifest.xml":           "<manifest/>",
		"lib/arm64-v8a/libapp.so":       "snapshot",
		"lib/arm64-v8a/libflutter.so":   "engine",
		"lib/armeabi-v7a/libflutter.so": "engine32",
	})

	r := newTestResolver(t)
	inputs, err := r.Resolve(apk)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	data, err := os.ReadFile(inputs.AppPath)
	if err != nil || string(data) != "snapshot" {
		t.Errorf("app image = %q, %v", data, err)
	}
	data, err = os.ReadFile(inputs.EnginePath)
	if err != nil || string(data) != "engine" {
		t.Errorf("engine image = %q, %v", data, err)
	}

	scratch := inputs.Scratch()
	if err := inputs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Error("scratch directory survived Close")
	}
	if err := inputs.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestResolve_APKMissingEntries(t *testing.T) {
	apk := filepath.Join(t.TempDir(), "broken.apk")
	writeZip(t, apk, map[string]string{
		"lib/arm64-v8a/libapp.so": "snapshot",
	})

	r := newTestResolver(t)
	_, err := r.Resolve(apk)

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if nf.Image != ImageEngine {
		t.Errorf("Image = %q, want %q", nf.Image, ImageEngine)
	}

	leftovers, _ := os.ReadDir(r.TempDir)
	if len(leftovers) != 0 {
		t.Errorf("scratch left behind: %v", leftovers)
	}
}

func TestResolve_IPA(t *testing.T) {
	ipa := filepath.Join(t.TempDir(), "Runner.ipa")
	writeZip(t, ipa, map[string]string{
		"Payload/Runner.app/Info.plist":                           "plist",
		"Payload/Runner.app/Frameworks/App.framework/App":         "snapshot",
		"Payload/Runner.app/Frameworks/Flutter.framework/Flutter": "engine",
	})

	inputs, err := newTestResolver(t).Resolve(ipa)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	defer inputs.Close()

	if filepath.Base(inputs.AppPath) != "App" || filepath.Base(inputs.EnginePath) != "Flutter" {
		t.Errorf("got %s / %s", inputs.AppPath, inputs.EnginePath)
	}
}

func TestResolve_Unsupported(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.txt")
	touch(t, filepath.Dir(p), "notes.txt")

	_, err := newTestResolver(t).Resolve(p)
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedError, got %v", err)
	}
}

func TestResolveBare(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "libapp.so")

	inputs, err := newTestResolver(t).ResolveBare(filepath.Join(dir, "libapp.so"))
	if err != nil {
		t.Fatalf("ResolveBare failed: %v", err)
	}
	if inputs.EnginePath != "" {
		t.Errorf("EnginePath = %q, want empty", inputs.EnginePath)
	}

	_, err = newTestResolver(t).ResolveBare(filepath.Join(dir, "missing.so"))
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
}

func TestInputs_CloseNil(t *testing.T) {
	var inputs *Inputs
	if err := inputs.Close(); err != nil {
		t.Errorf("Close on nil: %v", err)
	}
}

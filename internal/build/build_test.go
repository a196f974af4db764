package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/fingerprint"
	"github.com/aotkit/blutter/internal/sdk"
)

// fakeRunner records commands and optionally simulates the install step.
type fakeRunner struct {
	commands []Command
	// failStage makes the command of that stage exit 2.
	failStage string
	// install creates this file when the install step runs.
	install string
	// stdout is written to the command's Stdout.
	stdout string
}

func (f *fakeRunner) Run(ctx context.Context, c Command) error {
	f.commands = append(f.commands, c)
	if c.Stage == f.failStage {
		return &CommandError{Command: c.String(), ExitCode: 2, Output: "error: boom\n"}
	}
	if c.Stdout != nil && f.stdout != "" {
		fmt.Fprint(c.Stdout, f.stdout)
	}
	if c.Stage == StageInstall && f.install != "" {
		if err := os.MkdirAll(filepath.Dir(f.install), 0755); err != nil {
			return err
		}
		return os.WriteFile(f.install, []byte("analyzer"), 0755)
	}
	return nil
}

func (f *fakeRunner) stages() []string {
	var out []string
	for _, c := range f.commands {
		out = append(out, c.Stage)
	}
	return out
}

func testConfig(t *testing.T, flags fingerprint.Flags) fingerprint.Config {
	t.Helper()
	desc, err := sdk.NewDescriptor("3.4.2", "android", "arm64", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := fingerprint.Compute(desc, flags, fingerprint.ForceNoAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestDriver_Build(t *testing.T) {
	layout := sdk.Layout{Root: t.TempDir()}
	cfg := testConfig(t, fingerprint.Flags{IDAFunctionNames: true})
	runner := &fakeRunner{}
	driver := NewDriver(layout, "linux", DefaultTools(), runner, zap.NewNop())
	runner.install = driver.ArtifactPath(cfg.Identity)

	macros := []string{"-DHAS_RECORD_TYPE=1", "-DIDA_FCN=1"}
	result, err := driver.Build(context.Background(), Request{Config: cfg, Macros: macros})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if diff := cmp.Diff([]string{StageConfigure, StageCompile, StageInstall}, runner.stages()); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	buildDir := filepath.Join(layout.Root, "build", "blutter_dartvm3.4.2_android_arm64_ida-fcn")
	wantConfigure := []string{
		"-GNinja",
		"-B", buildDir,
		"-DDARTLIB=dartvm3.4.2_android_arm64",
		"-DNAME_SUFFIX=_ida-fcn",
		"-DCMAKE_BUILD_TYPE=Release",
		"--log-level=NOTICE",
		"-DHAS_RECORD_TYPE=1",
		"-DIDA_FCN=1",
	}
	configure := runner.commands[0]
	if diff := cmp.Diff(wantConfigure, configure.Args); diff != "" {
		t.Errorf("configure args mismatch (-want +got):\n%s", diff)
	}
	if configure.Dir != layout.SourceDir() {
		t.Errorf("configure dir = %q, want %q", configure.Dir, layout.SourceDir())
	}
	if configure.Env != nil {
		t.Errorf("expected no env override on linux, got %v", configure.Env)
	}
	if runner.commands[1].Name != "ninja" || runner.commands[1].Dir != buildDir {
		t.Errorf("compile = %s in %s", runner.commands[1], runner.commands[1].Dir)
	}
	if diff := cmp.Diff([]string{"--install", "."}, runner.commands[2].Args); diff != "" {
		t.Errorf("install args mismatch (-want +got):\n%s", diff)
	}

	if info, err := os.Stat(buildDir); err != nil || !info.IsDir() {
		t.Error("build directory was not created")
	}
	if result.ArtifactPath != runner.install {
		t.Errorf("ArtifactPath = %q, want %q", result.ArtifactPath, runner.install)
	}
	if len(result.Digest) != 64 {
		t.Errorf("Digest = %q, want 64 hex chars", result.Digest)
	}
	if result.Size != int64(len("analyzer")) {
		t.Errorf("Size = %d", result.Size)
	}
}

func TestDriver_BuildDirIsIdempotent(t *testing.T) {
	layout := sdk.Layout{Root: t.TempDir()}
	cfg := testConfig(t, fingerprint.Flags{})
	runner := &fakeRunner{}
	driver := NewDriver(layout, "linux", DefaultTools(), runner, zap.NewNop())
	runner.install = driver.ArtifactPath(cfg.Identity)

	// leftovers of an interrupted build
	stale := filepath.Join(driver.BuildDir(cfg.Identity), "CMakeCache.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := driver.Build(context.Background(), Request{Config: cfg}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
}

func TestDriver_BuildStepFailure(t *testing.T) {
	for _, stage := range []string{StageConfigure, StageCompile, StageInstall} {
		t.Run(stage, func(t *testing.T) {
			layout := sdk.Layout{Root: t.TempDir()}
			cfg := testConfig(t, fingerprint.Flags{})
			runner := &fakeRunner{failStage: stage}
			driver := NewDriver(layout, "linux", DefaultTools(), runner, zap.NewNop())

			_, err := driver.Build(context.Background(), Request{Config: cfg})
			var buildErr *Error
			if !errors.As(err, &buildErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if buildErr.Stage != stage {
				t.Errorf("Stage = %q, want %q", buildErr.Stage, stage)
			}
			if buildErr.ExitCode != 2 {
				t.Errorf("ExitCode = %d, want 2", buildErr.ExitCode)
			}
			if !strings.Contains(buildErr.Error(), "error: boom") {
				t.Errorf("expected tool output in message, got %q", buildErr.Error())
			}
			if got := runner.stages(); got[len(got)-1] != stage {
				t.Errorf("build continued after failing %s: %v", stage, got)
			}
		})
	}
}

func TestDriver_ArtifactMissingAfterBuild(t *testing.T) {
	layout := sdk.Layout{Root: t.TempDir()}
	cfg := testConfig(t, fingerprint.Flags{})
	driver := NewDriver(layout, "linux", DefaultTools(), &fakeRunner{}, zap.NewNop())

	_, err := driver.Build(context.Background(), Request{Config: cfg})

	var missing *ArtifactMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *ArtifactMissingError, got %v", err)
	}
	var buildErr *Error
	if errors.As(err, &buildErr) {
		t.Error("artifact missing must not be reported as a build step failure")
	}
	if missing.Path != driver.ArtifactPath(cfg.Identity) {
		t.Errorf("Path = %q", missing.Path)
	}
}

func TestDriver_DarwinUsesHomebrewLLVM(t *testing.T) {
	layout := sdk.Layout{Root: t.TempDir()}
	cfg := testConfig(t, fingerprint.Flags{})
	runner := &fakeRunner{stdout: "/opt/homebrew/opt/llvm@16\n"}
	driver := NewDriver(layout, "darwin", DefaultTools(), runner, zap.NewNop())
	runner.install = driver.ArtifactPath(cfg.Identity)

	if _, err := driver.Build(context.Background(), Request{Config: cfg}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	brew := runner.commands[0]
	if brew.Name != "brew" {
		t.Fatalf("first command = %s, want brew", brew)
	}
	if diff := cmp.Diff([]string{"--prefix", "llvm@16"}, brew.Args); diff != "" {
		t.Errorf("brew args mismatch (-want +got):\n%s", diff)
	}

	wantEnv := map[string]string{
		"CC":  "/opt/homebrew/opt/llvm@16/bin/clang",
		"CXX": "/opt/homebrew/opt/llvm@16/bin/clang++",
	}
	if diff := cmp.Diff(wantEnv, runner.commands[1].Env); diff != "" {
		t.Errorf("configure env mismatch (-want +got):\n%s", diff)
	}
	for _, c := range runner.commands[2:] {
		if c.Env != nil {
			t.Errorf("%s step must not carry the toolchain override", c.Stage)
		}
	}
	if os.Getenv("CC") == wantEnv["CC"] {
		t.Error("process environment was modified")
	}
}

func TestDriver_GenerateSolution(t *testing.T) {
	layout := sdk.Layout{Root: t.TempDir()}
	cfg := testConfig(t, fingerprint.Flags{NoAnalysis: true})
	runner := &fakeRunner{}
	driver := NewDriver(layout, "windows", DefaultTools(), runner, zap.NewNop())

	if err := os.MkdirAll(layout.BinDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(layout.BinDir(), "capstone.dll"), []byte("dll"), 0644); err != nil {
		t.Fatal(err)
	}

	outDir := filepath.Join(t.TempDir(), "sln")
	err := driver.GenerateSolution(context.Background(), SolutionRequest{
		Config:  cfg,
		Macros:  []string{"-DNO_CODE_ANALYSIS=1"},
		AppPath: "libapp.so",
		OutDir:  outDir,
	})
	if err != nil {
		t.Fatalf("GenerateSolution failed: %v", err)
	}

	if len(runner.commands) != 1 {
		t.Fatalf("expected one command, got %d", len(runner.commands))
	}
	want := []string{
		"-G", "Visual Studio 17 2022",
		"-A", "x64",
		"-B", outDir,
		"-DDARTLIB=dartvm3.4.2_android_arm64",
		"-DNAME_SUFFIX=_no-analysis",
		"-DDBG_CMD:STRING=-i libapp.so -o " + filepath.Join(outDir, "out"),
		"-DNO_CODE_ANALYSIS=1",
		layout.SourceDir(),
	}
	if diff := cmp.Diff(want, runner.commands[0].Args); diff != "" {
		t.Errorf("cmake args mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(outDir, "Debug", "capstone.dll")); err != nil {
		t.Errorf("dll not copied: %v", err)
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "CC=gcc", "HOME=/root"}
	got := MergeEnv(base, map[string]string{"CXX": "clang++", "CC": "clang"})

	want := []string{"PATH=/usr/bin", "HOME=/root", "CC=clang", "CXX=clang++"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MergeEnv mismatch (-want +got):\n%s", diff)
	}
	if base[1] != "CC=gcc" {
		t.Error("base slice was modified")
	}
}

func TestTailBuffer(t *testing.T) {
	tail := newTailBuffer(8)
	fmt.Fprint(tail, "0123")
	fmt.Fprint(tail, "456789")
	if got := tail.String(); got != "23456789" {
		t.Errorf("tail = %q, want 23456789", got)
	}

	fmt.Fprint(tail, "abcdefghijk")
	if got := tail.String(); got != "defghijk" {
		t.Errorf("tail = %q, want defghijk", got)
	}
}

func TestCommand_String(t *testing.T) {
	c := Command{Name: "cmake", Args: []string{"-G", "Visual Studio 17 2022", "-DX="}}
	if got, want := c.String(), `cmake -G "Visual Studio 17 2022" -DX=`; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

// TestHelperProcess is not a real test; ExecRunner tests re-run the test
// binary with it as the child.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("BLUTTER_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprintf(os.Stdout, "CC=%s\n", os.Getenv("CC"))
	fmt.Fprint(os.Stderr, "diagnostic line\n")
	if os.Getenv("HELPER_EXIT") == "3" {
		os.Exit(3)
	}
	os.Exit(0)
}

func helperCommand(env map[string]string, stdout, stderr *bytes.Buffer) Command {
	merged := map[string]string{"BLUTTER_WANT_HELPER_PROCESS": "1"}
	for k, v := range env {
		merged[k] = v
	}
	return Command{
		Stage:  "test",
		Name:   os.Args[0],
		Args:   []string{"-test.run=^TestHelperProcess$"},
		Env:    merged,
		Stdout: stdout,
		Stderr: stderr,
	}
}

func TestExecRunner_ScopedEnv(t *testing.T) {
	var stdout, stderr bytes.Buffer
	runner := NewExecRunner(zap.NewNop())

	err := runner.Run(context.Background(), helperCommand(map[string]string{"CC": "/llvm/bin/clang"}, &stdout, &stderr))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "CC=/llvm/bin/clang") {
		t.Errorf("child did not see override, stdout = %q", stdout.String())
	}
	if os.Getenv("CC") == "/llvm/bin/clang" {
		t.Error("override leaked into the parent environment")
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	var stdout, stderr bytes.Buffer
	runner := NewExecRunner(zap.NewNop())

	err := runner.Run(context.Background(), helperCommand(map[string]string{"HELPER_EXIT": "3"}, &stdout, &stderr))

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Output, "diagnostic line") {
		t.Errorf("Output = %q, want stderr tail", cmdErr.Output)
	}
	if !strings.Contains(stderr.String(), "diagnostic line") {
		t.Error("stderr was not streamed")
	}
}

func TestValidatePrerequisites(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(name string) (string, error) {
		if name == "ninja" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}

	result := ValidatePrerequisites(DefaultTools(), "darwin")
	if result.AllAvailable {
		t.Error("expected AllAvailable = false with ninja missing")
	}
	if len(result.Checks) != 3 {
		t.Fatalf("expected 3 checks on darwin, got %d", len(result.Checks))
	}
	if !strings.Contains(result.Checks[1].Message, "ninja-build.org") {
		t.Errorf("missing install hint: %q", result.Checks[1].Message)
	}

	if got := len(ValidatePrerequisites(DefaultTools(), "linux").Checks); got != 2 {
		t.Errorf("expected 2 checks on linux, got %d", got)
	}
}

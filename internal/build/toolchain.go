package build

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Tools names the external programs a build uses.
type Tools struct {
	CMake       string
	Ninja       string
	Brew        string
	LLVMFormula string
}

// DefaultTools returns the tool names looked up on PATH.
func DefaultTools() Tools {
	return Tools{
		CMake:       "cmake",
		Ninja:       "ninja",
		Brew:        "brew",
		LLVMFormula: "llvm@16",
	}
}

// Toolchain resolves the compiler environment for configure steps.
type Toolchain struct {
	goos   string
	tools  Tools
	runner Runner
	logger *zap.Logger
}

// NewToolchain creates a Toolchain for goos.
func NewToolchain(goos string, tools Tools, runner Runner, logger *zap.Logger) *Toolchain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolchain{goos: goos, tools: tools, runner: runner, logger: logger}
}

// Env returns the variables a configure step must see. On macOS the system
// clang is too old for the Dart VM sources, so CC and CXX point at the
// Homebrew LLVM. Everywhere else the environment is left alone.
func (t *Toolchain) Env(ctx context.Context) (map[string]string, error) {
	if t.goos != "darwin" {
		return nil, nil
	}

	var out, errOut bytes.Buffer
	cmd := Command{
		Stage:  StageToolchain,
		Name:   t.tools.Brew,
		Args:   []string{"--prefix", t.tools.LLVMFormula},
		Stdout: &out,
		Stderr: &errOut,
	}
	if err := t.runner.Run(ctx, cmd); err != nil {
		return nil, stepError(StageToolchain, cmd, err)
	}

	prefix := strings.TrimSpace(out.String())
	if prefix == "" {
		return nil, &Error{
			Stage:    StageToolchain,
			Command:  cmd.String(),
			ExitCode: 0,
			Output:   errOut.String(),
			Err:      errors.New("brew printed an empty prefix"),
		}
	}

	t.logger.Debug("Using Homebrew LLVM", zap.String("path", prefix))
	return map[string]string{
		"CC":  filepath.Join(prefix, "bin", "clang"),
		"CXX": filepath.Join(prefix, "bin", "clang++"),
	}, nil
}

package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aotkit/blutter/internal/logging"
)

// Command is one child process invocation.
type Command struct {
	// Stage labels the command in logs, e.g. "configure".
	Stage string
	Name  string
	Args  []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env overrides variables for this child only; the parent environment
	// is never modified.
	Env map[string]string
	// Stdout and Stderr receive the streamed output. Nil means os.Stdout and
	// os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}

// Runner runs commands to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// CommandError is returned by ExecRunner when a child fails to start or exits
// non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	// Output is the tail of the child's stderr
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DefaultTailSize is how much stderr ExecRunner keeps for diagnostics.
const DefaultTailSize = 8 * 1024

// ExecRunner runs commands with os/exec, streaming their output while keeping
// the last TailSize bytes of stderr.
type ExecRunner struct {
	TailSize int
	logger   *zap.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{TailSize: DefaultTailSize, logger: logger}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	start := time.Now()
	logging.LogCommand(r.logger, c.Stage, c.Name, c.Args, c.Dir)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = MergeEnv(os.Environ(), c.Env)
	}

	stdout := c.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := c.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	tail := newTailBuffer(r.TailSize)
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, tail)

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	logging.LogCommandResult(r.logger, c.Stage, time.Since(start), exitCode, err)

	if err != nil {
		return &CommandError{
			Command:  c.String(),
			ExitCode: exitCode,
			Output:   tail.String(),
			Err:      err,
		}
	}
	return nil
}

// MergeEnv returns base with every key in overrides set to its value.
// Overridden keys keep no earlier duplicates; new keys are appended in sorted
// order.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = DefaultTailSize
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return n, nil
	}
	if over := len(t.buf) + len(p) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// Package process runs external tools with incremental line output and
// cooperative cancellation.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nixblitz/installer-engine/pkg/errors"
)

// StderrPrefix marks lines that came from the tool's standard error.
const StderrPrefix = "[STDERR] "

// DefaultWaitDelay is how long a cancelled process gets between SIGTERM and SIGKILL.
const DefaultWaitDelay = 10 * time.Second

// LineFunc receives one line of tool output as soon as it is read.
type LineFunc func(line string)

// Result is the outcome of a process that ran to completion.
type Result struct {
	Command  string
	ExitCode int
	Output   []string
}

// ExitError is returned when a process exits with a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
	Output   []string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
}

// Log returns the captured output joined by newlines.
func (e *ExitError) Log() string {
	return strings.Join(e.Output, "\n")
}

// Runner executes shell commands.
type Runner interface {
	Run(ctx context.Context, name string, args []string, onLine LineFunc) (*Result, error)
}

// ExecRunner runs commands on the local host via os/exec.
type ExecRunner struct {
	// Env is appended to the inherited environment.
	Env []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// WaitDelay overrides DefaultWaitDelay when positive.
	WaitDelay time.Duration
}

// NewExecRunner creates a runner with default settings.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command and streams stdout and stderr lines to onLine until
// the process exits. Cancelling ctx sends SIGTERM and, after WaitDelay, SIGKILL.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, onLine LineFunc) (*Result, error) {
	cmdStr := CommandString(name, args)
	slog.Info("process_start", "command", cmdStr)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = DefaultWaitDelay
	if r.WaitDelay > 0 {
		cmd.WaitDelay = r.WaitDelay
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to capture stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to capture stderr")
	}

	if err := cmd.Start(); err != nil {
		slog.Error("process_spawn_failed", "command", cmdStr, "error", err)
		return nil, errors.Wrapf(err, "failed to spawn command %q", cmdStr)
	}

	var (
		mu     sync.Mutex
		output []string
		wg     sync.WaitGroup
	)
	collect := func(line string) {
		mu.Lock()
		output = append(output, line)
		mu.Unlock()
		if onLine != nil {
			onLine(line)
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, "", collect)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, StderrPrefix, collect)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	res := &Result{Command: cmdStr, Output: output}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		slog.Warn("process_cancelled", "command", cmdStr, "error", ctx.Err())
		return res, errors.Wrapf(ctx.Err(), "command %q cancelled", cmdStr)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			slog.Error("process_failed", "command", cmdStr, "exit_code", res.ExitCode)
			return res, &ExitError{Command: cmdStr, ExitCode: res.ExitCode, Output: output}
		}
		slog.Error("process_wait_failed", "command", cmdStr, "error", waitErr)
		return res, errors.Wrapf(waitErr, "failed to wait for command %q", cmdStr)
	}

	slog.Info("process_complete", "command", cmdStr, "lines", len(output))
	return res, nil
}

func scanLines(r io.Reader, prefix string, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(prefix + scanner.Text())
	}
	// Drain anything left after a scanner error so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// CommandString renders a command line for logs and error messages.
func CommandString(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

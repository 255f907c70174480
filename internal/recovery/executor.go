package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ErrCommandFailed is returned when a step command exits non-zero. It wraps
// the underlying exec error so callers can inspect it with errors.As.
var ErrCommandFailed = errors.New("recovery: command failed")

// CommandResult holds the outcome of a single command execution.
type CommandResult struct {
	// Output is the combined stdout+stderr, trimmed of surrounding
	// whitespace, recorded in the step result for the operator.
	Output   string
	ExitCode int
	Duration time.Duration
}

// Executor runs automatic step commands as blocking subprocesses. Commands
// go through a shell so pipes, redirects and variable expansion work:
// /bin/sh -c on Linux and macOS, cmd /C on Windows.
type Executor struct{}

// Run executes a shell command bounded by the given timeout. If the parent
// context is cancelled first the subprocess is killed immediately. A
// non-zero exit returns ErrCommandFailed with the result still populated,
// so the output can be recorded either way.
func (Executor) Run(ctx context.Context, command string, timeout time.Duration) (*CommandResult, error) {
	if command == "" {
		return &CommandResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCmd(ctx, command)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Output:   strings.TrimSpace(buf.String()),
		Duration: time.Since(start),
	}

	if err != nil {
		result.ExitCode = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		// Distinguish a timeout from a genuine script failure.
		if ctx.Err() != nil {
			return result, fmt.Errorf("%w: %w", ErrCommandFailed, ctx.Err())
		}
		return result, fmt.Errorf("%w: exit code %d", ErrCommandFailed, result.ExitCode)
	}

	return result, nil
}

func shellCmd(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

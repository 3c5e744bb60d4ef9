// Package run executes external collaborators (package manager, systemctl,
// useradd) with a bounded timeout and captured output.
package run

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single external command invocation.
const DefaultTimeout = 60 * time.Second

// Result holds the captured output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts command execution so probes and handlers can be
// tested against fakes.
type Runner interface {
	// Run executes name with args. A non-zero exit is reported through
	// Result.ExitCode, not the error; the error is reserved for commands
	// that could not run at all (missing binary, timeout, cancellation).
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	Timeout time.Duration // 0 means DefaultTimeout
	Env     []string      // appended to the inherited environment
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(cmd.Environ(), r.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// Line returns the first line of s, trimmed. Command probes use it to
// read single-value outputs like a version string.
func Line(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

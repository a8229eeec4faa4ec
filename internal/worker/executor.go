package worker

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ExecFunc runs a job's command and returns its trimmed standard output.
// A non-nil error marks the execution as failed; its Error() text becomes the
// job's error_message.
type ExecFunc func(ctx context.Context, command string) (string, error)

// ExecError describes a command that could not be started or exited non-zero.
type ExecError struct {
	// ExitCode is the process exit status, or -1 when the process never ran.
	ExitCode int
	// Cause is the trimmed standard error, or Err's text when stderr was empty.
	Cause string
	Err   error
}

func (e *ExecError) Error() string { return e.Cause }

func (e *ExecError) Unwrap() error { return e.Err }

// RunShell executes command through "sh -c". Execution is not bounded by a
// timeout and is not interrupted by ctx: once a job starts it runs to
// completion.
func RunShell(_ context.Context, command string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	cause := strings.TrimSpace(stderr.String())
	if cause == "" {
		cause = err.Error()
	}
	return "", &ExecError{ExitCode: code, Cause: cause, Err: err}
}

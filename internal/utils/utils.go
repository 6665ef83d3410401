package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr
// (ffmpeg, tesseract or the OCR worker's logs). This ensures we don't lose
// critical crash information if a helper process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to
// its Stderr pipe. It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Wrap annotates err with the captured stderr, if any.
func (s *SafeCommand) Wrap(context string, err error) error {
	if err == nil {
		return nil
	}
	if s != nil && s.Stderr.Len() > 0 {
		return fmt.Errorf("%s: %w: %s", context, err, bytes.TrimSpace(s.Stderr.Bytes()))
	}
	return fmt.Errorf("%s: %w", context, err)
}

// --- 2. Error Reporting & Exit Codes ---

// ExitError carries a process exit code alongside the error that caused it.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// WithExitCode attaches an exit code to err.
func WithExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode returns the code attached to err: 0 for nil, 1 when none was attached.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// ShowError prints a formatted error box to stderr and dumps the helper
// process logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	writeError(os.Stderr, context, err, s)
}

func writeError(w io.Writer, context string, err error, s *SafeCommand) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 HIDOCR ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(w, "\nHELPER PROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// Package toolexec is the execution layer between the publish pipeline and
// the external packaging tools (python, build, twine, pip). It runs one
// blocking command at a time, streams the tool's own output through to the
// console, captures a bounded copy for smoke-test inspection, and emits
// audit events for every invocation.
//
// Design principles:
//   - No policy: stage ordering and failure handling live in the pipeline.
//   - Blocking: a command runs to completion before control returns.
//   - No default timeout: a hanging tool hangs the run unless the operator
//     opted into --timeout.
package toolexec

import (
	"context"
	"io"
	"strings"
	"time"
)

// Command describes one external tool invocation.
type Command struct {
	// Binary is the executable to run (resolved via PATH).
	Binary string

	// Args are the command-line arguments.
	Args []string

	// Dir is the working directory; empty means the process CWD.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the parent environment.
	// The parent environment always passes through so twine/pip credentials
	// (TWINE_*, PIP_*) reach the tools untouched.
	Env []string

	// Stage tags the invocation with the pipeline stage for audit records.
	Stage string

	// Timeout bounds the invocation. Zero means no limit.
	Timeout time.Duration

	// Quiet suppresses console streaming; output is still captured.
	// Used by the best-effort smoke tests.
	Quiet bool
}

// String renders the command for display and audit.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a completed invocation. A nonzero ExitCode is a
// normal Result, not a Go error: the pipeline decides what is fatal.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time

	// Killed reports that the process was terminated by timeout or
	// cancellation rather than exiting on its own.
	Killed     bool
	KillReason string

	// Truncated reports that captured output hit the capture cap. The
	// console stream is never truncated.
	Truncated bool
}

// Output returns stdout and stderr joined for display.
func (r *Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes tool commands. The pipeline depends on this interface so
// tests can substitute a scripted fake for the real host executor.
type Runner interface {
	// Run executes cmd and blocks until it finishes. It returns an error
	// only when the command could not be run at all (binary missing,
	// start failure); a command that ran and exited nonzero returns a
	// Result with the exit code and a nil error.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// LookPath reports the resolved path of a binary, or an error when it
	// is not installed.
	LookPath(binary string) (string, error)
}

// limitedWriter caps captured bytes while pretending to accept everything,
// so a MultiWriter sibling (the console stream) never sees a short write.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"pyship/internal/logging"
)

// defaultMaxCaptureBytes caps the captured copy of tool output at 10MB.
// Streaming to the console is unaffected.
const defaultMaxCaptureBytes = 10 * 1024 * 1024

// HostRunnerConfig configures a HostRunner. Zero values get defaults.
type HostRunnerConfig struct {
	// Stdout and Stderr receive the live tool output stream.
	// Nil defaults to os.Stdout / os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// MaxCaptureBytes bounds the captured output copy per stream.
	MaxCaptureBytes int64

	// Audit receives one event per invocation lifecycle step. Optional.
	Audit func(AuditEvent)

	// RunID stamps audit events with the pipeline run identity.
	RunID string
}

// HostRunner executes commands on the host, one at a time. It is the only
// Runner used outside of tests.
type HostRunner struct {
	mu  sync.Mutex
	cfg HostRunnerConfig
}

// NewHostRunner builds a HostRunner with defaults applied.
func NewHostRunner(cfg HostRunnerConfig) *HostRunner {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.MaxCaptureBytes <= 0 {
		cfg.MaxCaptureBytes = defaultMaxCaptureBytes
	}
	return &HostRunner{cfg: cfg}
}

// LookPath resolves binary via the PATH of this process.
func (h *HostRunner) LookPath(binary string) (string, error) {
	return exec.LookPath(binary)
}

// Run executes cmd, streaming output live and capturing a bounded copy.
// Commands run strictly sequentially; the publish pipeline has no parallel
// stages and interleaved tool output would be unreadable anyway.
func (h *HostRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cmd.Binary == "" {
		return nil, errors.New("toolexec: command has no binary")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	logging.Tools("running %s (dir=%s stage=%s)", cmd.String(), cmd.Dir, cmd.Stage)
	h.audit(newStartEvent(h.cfg.RunID, cmd))

	execCmd := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = append(os.Environ(), cmd.Env...)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutCap := &limitedWriter{w: &stdoutBuf, max: h.cfg.MaxCaptureBytes}
	stderrCap := &limitedWriter{w: &stderrBuf, max: h.cfg.MaxCaptureBytes}
	if cmd.Quiet {
		execCmd.Stdout = stdoutCap
		execCmd.Stderr = stderrCap
	} else {
		execCmd.Stdout = io.MultiWriter(h.cfg.Stdout, stdoutCap)
		execCmd.Stderr = io.MultiWriter(h.cfg.Stderr, stderrCap)
	}

	start := time.Now()
	err := execCmd.Run()
	end := time.Now()

	res := &Result{
		Stdout:     stdoutBuf.String(),
		Stderr:     stderrBuf.String(),
		Duration:   end.Sub(start),
		StartedAt:  start,
		FinishedAt: end,
		Truncated:  stdoutCap.truncated || stderrCap.truncated,
	}

	switch {
	case err == nil:
		res.ExitCode = 0
	case isExitError(err):
		res.ExitCode = exitCode(err)
		// A context kill surfaces as a failed wait, so the context is
		// consulted only here. A command that exited cleanly in the same
		// instant the deadline passed stays a plain success.
		if ctxErr := runCtx.Err(); ctxErr != nil {
			res.Killed = true
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				res.KillReason = fmt.Sprintf("timeout after %s", cmd.Timeout)
			} else {
				res.KillReason = "canceled"
			}
			logging.ToolsWarn("%s killed: %s", cmd.Binary, res.KillReason)
		}
	default:
		// The command never ran: missing binary, permission, bad dir.
		h.audit(newErrorEvent(h.cfg.RunID, cmd, err))
		logging.ToolsError("failed to start %s: %v", cmd.Binary, err)
		return nil, fmt.Errorf("run %s: %w", cmd.Binary, err)
	}

	h.audit(newCompleteEvent(h.cfg.RunID, cmd, res))
	logging.ToolsDebug("finished: %s exit=%d duration=%s", cmd.Binary, res.ExitCode, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (h *HostRunner) audit(ev AuditEvent) {
	if h.cfg.Audit != nil {
		h.cfg.Audit(ev)
	}
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		// Signal death reports -1; collapse to a generic failure code.
		return 1
	}
	return 1
}

package toolexec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType classifies audit records.
type AuditEventType string

const (
	// AuditStart records that a command is about to run.
	AuditStart AuditEventType = "start"
	// AuditComplete records a finished command with its exit code.
	AuditComplete AuditEventType = "complete"
	// AuditError records a command that could not be started.
	AuditError AuditEventType = "error"
)

// AuditEvent is one line in the audit trail. Upload credentials never appear
// here: commands carry them through the environment, not argv.
type AuditEvent struct {
	Type       AuditEventType `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"run_id,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Command    string         `json:"command"`
	Dir        string         `json:"dir,omitempty"`
	ExitCode   int            `json:"exit_code,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Killed     bool           `json:"killed,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func newStartEvent(runID string, cmd Command) AuditEvent {
	return AuditEvent{
		Type:      AuditStart,
		Timestamp: time.Now(),
		RunID:     runID,
		Stage:     cmd.Stage,
		Command:   cmd.String(),
		Dir:       cmd.Dir,
	}
}

func newCompleteEvent(runID string, cmd Command, res *Result) AuditEvent {
	return AuditEvent{
		Type:       AuditComplete,
		Timestamp:  time.Now(),
		RunID:      runID,
		Stage:      cmd.Stage,
		Command:    cmd.String(),
		Dir:        cmd.Dir,
		ExitCode:   res.ExitCode,
		DurationMs: res.Duration.Milliseconds(),
		Killed:     res.Killed,
	}
}

func newErrorEvent(runID string, cmd Command, err error) AuditEvent {
	return AuditEvent{
		Type:      AuditError,
		Timestamp: time.Now(),
		RunID:     runID,
		Stage:     cmd.Stage,
		Command:   cmd.String(),
		Dir:       cmd.Dir,
		Error:     err.Error(),
	}
}

// AuditLog appends events as JSON lines to a file. Safe for concurrent use,
// though the pipeline writes from a single goroutine.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenAuditLog opens (or creates) the audit file in append mode, creating
// parent directories as needed.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditLog{file: file, enc: json.NewEncoder(file)}, nil
}

// Write appends one event. Audit failures are reported but must never stop
// a publish run, so callers may ignore the error.
func (a *AuditLog) Write(ev AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enc.Encode(ev); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

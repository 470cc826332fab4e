// Package trajectory appends structured events to the run trajectory
// log, an append-only NDJSON file consumed by outside observability
// tooling. This subsystem only ever writes it.
package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event names emitted by the snapshot/rollback subsystem.
const (
	EventSnapshotCreated   = "snapshot_created"
	EventSnapshotRestored  = "snapshot_restored"
	EventSingleRollback    = "single_rollback"
	EventRunRollback       = "run_rollback"
	EventSnapshotRollback  = "snapshot_rollback"
	EventQuotaWarning      = "quota_warning"
	EventQuotaCritical     = "quota_critical"
	EventQuotaExceeded     = "quota_exceeded"
	EventUnlockedOperation = "unlocked_operation"
)

// Record is one trajectory log line.
type Record struct {
	Type      string                 `json:"type"`
	Event     string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Recorder accepts trajectory events. Failures to record are reported
// but callers treat them as non-fatal: observability never blocks a
// restore.
type Recorder interface {
	Record(event string, data map[string]interface{}) error
}

// Log appends records to an NDJSON file.
type Log struct {
	path string
	now  func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// NewLog creates a trajectory log writing to path.
func NewLog(path string, opts ...Option) *Log {
	l := &Log{
		path: path,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends one event. Each line is a self-contained JSON object,
// written with a single O_APPEND write so concurrent processes interleave
// at line granularity.
func (l *Log) Record(event string, data map[string]interface{}) error {
	rec := Record{
		Type:      "flatline",
		Event:     event,
		Timestamp: l.now().UTC(),
		Data:      data,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling trajectory record: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("creating trajectory directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- path from config
	if err != nil {
		return fmt.Errorf("opening trajectory log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending trajectory record: %w", err)
	}
	return nil
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Nop discards all events. Used in tests and when the trajectory log is
// not configured.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(string, map[string]interface{}) error { return nil }

package core

import (
	"strings"
	"time"
)

// SnapshotID identifies a snapshot: <timestamp>_<8-hex-hash-prefix>.
type SnapshotID string

// RunID identifies an integration run. Many snapshots share a run.
type RunID string

// IntegrationID identifies one change within a run.
type IntegrationID string

// IntegrationStatus is the lifecycle state of an applied change.
// Transitions only forward: applied -> rolled_back.
type IntegrationStatus string

const (
	StatusApplied    IntegrationStatus = "applied"
	StatusRolledBack IntegrationStatus = "rolled_back"
)

// Valid reports whether the status is a known value.
func (s IntegrationStatus) Valid() bool {
	return s == StatusApplied || s == StatusRolledBack
}

// SnapshotMetadata is the record stored alongside each snapshot file.
type SnapshotMetadata struct {
	SnapshotID    SnapshotID    `json:"snapshot_id"`
	Document      string        `json:"document"`
	RunID         RunID         `json:"run_id"`
	IntegrationID IntegrationID `json:"integration_id,omitempty"`
	Hash          string        `json:"hash"`
	SizeBytes     int64         `json:"size_bytes"`
	CreatedAt     time.Time     `json:"created_at"`

	GitCommitted     bool `json:"git_committed,omitempty"`
	SecretScanFailed bool `json:"secret_scan_failed,omitempty"`
}

// Integration is one entry in a run's manifest: a single applied change
// together with the snapshot that can undo it.
type Integration struct {
	IntegrationID IntegrationID     `json:"integration_id"`
	Type          string            `json:"type"`
	ItemID        string            `json:"item_id,omitempty"`
	Status        IntegrationStatus `json:"status"`
	SnapshotID    SnapshotID        `json:"snapshot_id,omitempty"`
	Document      string            `json:"document"`
	DocumentHash  string            `json:"document_hash"`
	CreatedAt     time.Time         `json:"created_at"`
}

// CanRollback reports whether this integration is eligible for rollback:
// it must carry a snapshot and not already be rolled back.
func (i *Integration) CanRollback() bool {
	return i.SnapshotID != "" && i.Status != StatusRolledBack
}

// Manifest is the authoritative, ordered record of what one run changed
// and how to undo it.
type Manifest struct {
	RunID        RunID         `json:"run_id"`
	Integrations []Integration `json:"integrations"`
	Status       string        `json:"status,omitempty"`
}

// Find returns the integration with the given ID, or nil.
func (m *Manifest) Find(id IntegrationID) *Integration {
	for i := range m.Integrations {
		if m.Integrations[i].IntegrationID == id {
			return &m.Integrations[i]
		}
	}
	return nil
}

// RestoreResult describes a completed restore operation.
type RestoreResult struct {
	SnapshotID SnapshotID `json:"snapshot_id"`
	Document   string     `json:"document"`
	BackupPath string     `json:"backup_path,omitempty"`
	Hash       string     `json:"hash"`
	RestoredAt time.Time  `json:"restored_at"`
}

// QuotaStats is derived on demand from a snapshot directory scan.
type QuotaStats struct {
	Count        int     `json:"count"`
	TotalBytes   int64   `json:"total_bytes"`
	MaxCount     int     `json:"max_count"`
	MaxBytes     int64   `json:"max_bytes"`
	CountPercent float64 `json:"count_percent"`
	BytesPercent float64 `json:"bytes_percent"`
}

// Percent returns the higher of the two utilization percentages; quota
// pressure is driven by whichever limit is closer.
func (q QuotaStats) Percent() float64 {
	if q.CountPercent > q.BytesPercent {
		return q.CountPercent
	}
	return q.BytesPercent
}

// ValidSnapshotID performs a shape check on an externally supplied ID
// before it is used to build filesystem paths.
func ValidSnapshotID(id SnapshotID) bool {
	s := string(id)
	if s == "" || strings.ContainsAny(s, "/\\") || strings.Contains(s, "..") {
		return false
	}
	return true
}

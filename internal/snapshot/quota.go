package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loa-labs/flatline/internal/config"
	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/logging"
	"github.com/loa-labs/flatline/internal/trajectory"
)

// Quota thresholds: crossing them triggers warn/critical/block-or-evict.
const (
	quotaWarnPercent     = 80.0
	quotaCriticalPercent = 90.0
)

// Quota computes snapshot storage pressure on demand from directory
// scans. Nothing is cached: every check reflects the directory as it is.
type Quota struct {
	dir      string
	maxCount int
	maxBytes int64
	policy   string
	refs     *Refs
	traj     trajectory.Recorder
	logger   *logging.Logger
}

// NewQuota creates a quota manager for the snapshot directory.
func NewQuota(dir string, cfg config.SnapshotsConfig, refs *Refs, traj trajectory.Recorder, logger *logging.Logger) *Quota {
	if traj == nil {
		traj = trajectory.Nop{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Quota{
		dir:      dir,
		maxCount: cfg.MaxCount,
		maxBytes: cfg.MaxBytes,
		policy:   cfg.OnQuota,
		refs:     refs,
		traj:     traj,
		logger:   logger,
	}
}

// Stats scans the snapshot directory and reports utilization. A limit of
// zero means unlimited and reports zero percent.
func (q *Quota) Stats() (core.QuotaStats, error) {
	stats := core.QuotaStats{
		MaxCount: q.maxCount,
		MaxBytes: q.maxBytes,
	}

	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("scanning snapshot directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isContentFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Count++
		stats.TotalBytes += info.Size()
	}

	if q.maxCount > 0 {
		stats.CountPercent = 100 * float64(stats.Count) / float64(q.maxCount)
	}
	if q.maxBytes > 0 {
		stats.BytesPercent = 100 * float64(stats.TotalBytes) / float64(q.maxBytes)
	}
	return stats, nil
}

// Check enforces quota before a snapshot is created. At 80% it warns, at
// 90% it warns critically, at 100% it either evicts the oldest
// unreferenced snapshots (policy purge_oldest) or fails the create
// (policy fail).
func (q *Quota) Check() error {
	stats, err := q.Stats()
	if err != nil {
		return err
	}

	pct := stats.Percent()
	switch {
	case pct >= 100:
		if q.policy == config.QuotaPolicyPurgeOldest {
			return q.evictOldest(stats)
		}
		q.record(trajectory.EventQuotaExceeded, stats)
		return core.ErrQuotaExceeded(fmt.Sprintf(
			"snapshot quota exceeded: %d/%d snapshots, %d/%d bytes",
			stats.Count, stats.MaxCount, stats.TotalBytes, stats.MaxBytes))
	case pct >= quotaCriticalPercent:
		q.record(trajectory.EventQuotaCritical, stats)
		q.logger.Warn("snapshot quota critical", "percent", pct)
	case pct >= quotaWarnPercent:
		q.record(trajectory.EventQuotaWarning, stats)
		q.logger.Warn("snapshot quota warning", "percent", pct)
	}
	return nil
}

// evictOldest deletes unreferenced snapshots in creation-time order until
// both limits are back under 100%. Referenced snapshots are always
// skipped regardless of age. If eviction cannot bring usage under the
// limits the create still fails.
func (q *Quota) evictOldest(stats core.QuotaStats) error {
	metas, err := readAllMetadata(q.dir)
	if err != nil {
		return err
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].SnapshotID < metas[j].SnapshotID
		}
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})

	count := stats.Count
	bytes := stats.TotalBytes
	for _, meta := range metas {
		if !q.overLimit(count, bytes) {
			break
		}
		n, err := q.refs.Count(meta.SnapshotID)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if err := deleteSnapshotFiles(q.dir, meta.SnapshotID, q.refs); err != nil {
			return err
		}
		q.logger.Info("evicted snapshot under quota pressure",
			"snapshot_id", meta.SnapshotID, "created_at", meta.CreatedAt.Format(time.RFC3339))
		count--
		bytes -= meta.SizeBytes
	}

	if q.overLimit(count, bytes) {
		q.record(trajectory.EventQuotaExceeded, stats)
		return core.ErrQuotaExceeded("snapshot quota exceeded and all remaining snapshots are referenced")
	}
	return nil
}

func (q *Quota) overLimit(count int, bytes int64) bool {
	if q.maxCount > 0 && count >= q.maxCount {
		return true
	}
	if q.maxBytes > 0 && bytes >= q.maxBytes {
		return true
	}
	return false
}

func (q *Quota) record(event string, stats core.QuotaStats) {
	_ = q.traj.Record(event, map[string]interface{}{
		"count":         stats.Count,
		"total_bytes":   stats.TotalBytes,
		"count_percent": stats.CountPercent,
		"bytes_percent": stats.BytesPercent,
	})
}

// isContentFile reports whether a directory entry is snapshot content,
// as opposed to metadata or reference bookkeeping.
func isContentFile(name string) bool {
	return !strings.HasSuffix(name, metaSuffix) &&
		!strings.HasSuffix(name, refsSuffix) &&
		!strings.HasPrefix(name, ".")
}

// deleteSnapshotFiles removes content, metadata and reference files for
// a snapshot. Content goes last so a crash mid-delete leaves an orphaned
// metadata file rather than an unaccounted content file.
func deleteSnapshotFiles(dir string, id core.SnapshotID, refs *Refs) error {
	if err := os.Remove(filepath.Join(dir, string(id)+metaSuffix)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting snapshot metadata: %w", err)
	}
	if err := refs.Drop(id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, string(id))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting snapshot content: %w", err)
	}
	return nil
}

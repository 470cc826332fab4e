package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/fsutil"
)

// Refs tracks which runs depend on each snapshot for potential rollback.
// A snapshot with at least one live reference must never be deleted by
// cleanup or quota eviction.
type Refs struct {
	dir string
}

// NewRefs creates a reference tracker over the snapshot directory.
func NewRefs(dir string) *Refs {
	return &Refs{dir: dir}
}

// refList is the per-snapshot reference file payload.
type refList struct {
	SnapshotID core.SnapshotID `json:"snapshot_id"`
	Runs       []core.RunID    `json:"runs"`
}

// Add records that runID depends on the snapshot. Idempotent: adding the
// same run twice is a no-op.
func (r *Refs) Add(id core.SnapshotID, runID core.RunID) error {
	list, err := r.load(id)
	if err != nil {
		return err
	}
	for _, existing := range list.Runs {
		if existing == runID {
			return nil
		}
	}
	list.SnapshotID = id
	list.Runs = append(list.Runs, runID)
	return r.save(id, list)
}

// Remove drops one occurrence of runID. Removing an absent run is a
// no-op.
func (r *Refs) Remove(id core.SnapshotID, runID core.RunID) error {
	list, err := r.load(id)
	if err != nil {
		return err
	}
	kept := list.Runs[:0]
	removed := false
	for _, existing := range list.Runs {
		if !removed && existing == runID {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return nil
	}
	list.Runs = kept
	if len(list.Runs) == 0 {
		// Empty list: drop the file so the snapshot is cleanup-eligible.
		if err := os.Remove(r.path(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing reference file: %w", err)
		}
		return nil
	}
	return r.save(id, list)
}

// Count returns the number of live references.
func (r *Refs) Count(id core.SnapshotID) (int, error) {
	list, err := r.load(id)
	if err != nil {
		return 0, err
	}
	return len(list.Runs), nil
}

// List returns the owning run IDs.
func (r *Refs) List(id core.SnapshotID) ([]core.RunID, error) {
	list, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return list.Runs, nil
}

// Drop removes the reference file entirely. Used when the snapshot
// itself is deleted.
func (r *Refs) Drop(id core.SnapshotID) error {
	if err := os.Remove(r.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dropping reference file: %w", err)
	}
	return nil
}

func (r *Refs) path(id core.SnapshotID) string {
	return filepath.Join(r.dir, string(id)+refsSuffix)
}

func (r *Refs) load(id core.SnapshotID) (*refList, error) {
	data, err := os.ReadFile(r.path(id)) // #nosec G304 -- id validated by the store
	if err != nil {
		if os.IsNotExist(err) {
			return &refList{SnapshotID: id}, nil
		}
		return nil, fmt.Errorf("reading reference file: %w", err)
	}
	var list refList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing reference file for %s: %w", id, err)
	}
	return &list, nil
}

func (r *Refs) save(id core.SnapshotID, list *refList) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling reference list: %w", err)
	}
	if err := fsutil.WriteFileAtomic(r.path(id), data, 0o600); err != nil {
		return fmt.Errorf("writing reference file: %w", err)
	}
	return nil
}

// Package rollback walks integration manifests in reverse to undo
// applied changes, one snapshot restore at a time. Locks are acquired in
// the fixed order run -> manifest -> document; each layer takes its own
// lock for exactly the window it needs it.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/lock"
	"github.com/loa-labs/flatline/internal/logging"
	"github.com/loa-labs/flatline/internal/manifest"
	"github.com/loa-labs/flatline/internal/snapshot"
	"github.com/loa-labs/flatline/internal/trajectory"
)

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Store      *snapshot.Store
	Manifests  *manifest.Store
	Locks      lock.Service
	Trajectory trajectory.Recorder
	Logger     *logging.Logger
	Clock      func() time.Time
}

// Orchestrator coordinates single/run/direct rollback modes.
type Orchestrator struct {
	store     *snapshot.Store
	manifests *manifest.Store
	locks     lock.Service
	traj      trajectory.Recorder
	logger    *logging.Logger
	now       func() time.Time
}

// New wires an orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Trajectory == nil {
		deps.Trajectory = trajectory.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Orchestrator{
		store:     deps.Store,
		manifests: deps.Manifests,
		locks:     deps.Locks,
		traj:      deps.Trajectory,
		logger:    deps.Logger,
		now:       deps.Clock,
	}
}

// EntryOutcome is the per-integration result of a rollback.
type EntryOutcome string

const (
	OutcomePlanned    EntryOutcome = "planned"
	OutcomeRolledBack EntryOutcome = "rolled_back"
	OutcomeSkipped    EntryOutcome = "skipped"
	OutcomeFailed     EntryOutcome = "failed"
)

// EntryResult reports what happened to one integration.
type EntryResult struct {
	IntegrationID core.IntegrationID `json:"integration_id"`
	SnapshotID    core.SnapshotID    `json:"snapshot_id,omitempty"`
	Document      string             `json:"document,omitempty"`
	Outcome       EntryOutcome       `json:"outcome"`
	BackupPath    string             `json:"backup_path,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// RunResult reports a run-wide rollback. Partial rollback is a
// legitimate terminal state: Completed is false and Entries records how
// far the reverse walk got.
type RunResult struct {
	RunID     core.RunID    `json:"run_id"`
	DryRun    bool          `json:"dry_run"`
	Force     bool          `json:"force"`
	Completed bool          `json:"completed"`
	Entries   []EntryResult `json:"entries"`
}

// Single rolls back one integration. When runID is empty the owning run
// is found by scanning all manifests. Dry-run reports the plan without
// locking or mutating anything.
func (o *Orchestrator) Single(ctx context.Context, integrationID core.IntegrationID, runID core.RunID, dryRun, force bool) (*EntryResult, error) {
	var m *core.Manifest
	var integ *core.Integration
	var err error
	if runID == "" {
		m, integ, err = o.manifests.FindIntegration(integrationID)
	} else {
		m, err = o.manifests.Load(runID)
		if err == nil {
			integ = m.Find(integrationID)
			if integ == nil {
				err = core.ErrNotFound("integration", string(integrationID))
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if integ.SnapshotID == "" {
		return nil, core.ErrState(core.CodeNoSnapshotAvailable,
			fmt.Sprintf("integration %s has no snapshot and cannot be rolled back", integrationID))
	}
	if integ.Status == core.StatusRolledBack {
		return nil, core.ErrState(core.CodeManifestInconsistent,
			fmt.Sprintf("integration %s is already rolled back", integrationID))
	}

	result := &EntryResult{
		IntegrationID: integ.IntegrationID,
		SnapshotID:    integ.SnapshotID,
		Document:      integ.Document,
		Outcome:       OutcomePlanned,
	}
	if dryRun {
		return result, nil
	}

	runLock, err := o.locks.Acquire(ctx, string(m.RunID), lock.ClassRun)
	if err != nil {
		return nil, err
	}
	defer runLock.Release()

	if err := o.rollbackEntry(ctx, m.RunID, integ, force, result); err != nil {
		return result, err
	}

	_ = o.traj.Record(trajectory.EventSingleRollback, map[string]interface{}{
		"run_id":         string(m.RunID),
		"integration_id": string(integ.IntegrationID),
		"snapshot_id":    string(integ.SnapshotID),
		"document":       integ.Document,
	})
	return result, nil
}

// Run rolls back every applied integration of a run in reverse
// chronological order (undo last-applied-first). Entries already rolled
// back are skipped. Without force the first failure halts the walk,
// leaving earlier-applied entries untouched.
func (o *Orchestrator) Run(ctx context.Context, runID core.RunID, dryRun, force bool) (*RunResult, error) {
	m, err := o.manifests.Load(runID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:     runID,
		DryRun:    dryRun,
		Force:     force,
		Completed: true,
	}

	if !dryRun {
		runLock, err := o.locks.Acquire(ctx, string(runID), lock.ClassRun)
		if err != nil {
			return nil, err
		}
		defer runLock.Release()
	}

	// Explicit LIFO walk over the ordered manifest.
	for i := len(m.Integrations) - 1; i >= 0; i-- {
		integ := &m.Integrations[i]
		entry := EntryResult{
			IntegrationID: integ.IntegrationID,
			SnapshotID:    integ.SnapshotID,
			Document:      integ.Document,
		}

		switch {
		case integ.Status == core.StatusRolledBack:
			entry.Outcome = OutcomeSkipped
		case integ.SnapshotID == "":
			entry.Outcome = OutcomeFailed
			entry.Error = "no snapshot available"
			result.Completed = false
		case dryRun:
			entry.Outcome = OutcomePlanned
		default:
			if err := o.rollbackEntry(ctx, runID, integ, force, &entry); err != nil {
				entry.Outcome = OutcomeFailed
				entry.Error = err.Error()
				result.Completed = false
			}
		}

		result.Entries = append(result.Entries, entry)
		if entry.Outcome == OutcomeFailed && !force {
			// Earlier-applied entries stay untouched. Partial rollback
			// is reported, not retried.
			break
		}
	}

	if !dryRun {
		_ = o.traj.Record(trajectory.EventRunRollback, map[string]interface{}{
			"run_id":    string(runID),
			"completed": result.Completed,
			"entries":   len(result.Entries),
		})
	}
	return result, nil
}

// Snapshot restores a snapshot directly, bypassing manifest and
// reference bookkeeping. Manual recovery path: still takes the document
// lock and writes a backup first.
func (o *Orchestrator) Snapshot(ctx context.Context, id core.SnapshotID, force bool) (*core.RestoreResult, error) {
	result, err := o.store.Restore(ctx, id, snapshot.RestoreOptions{Force: force})
	if err != nil {
		return nil, err
	}
	_ = o.traj.Record(trajectory.EventSnapshotRollback, map[string]interface{}{
		"snapshot_id": string(id),
		"document":    result.Document,
	})
	return result, nil
}

// ListEntry annotates a manifest integration with rollback eligibility.
type ListEntry struct {
	core.Integration
	CanRollback bool `json:"can_rollback"`
}

// List is a read-only projection of a run's manifest.
func (o *Orchestrator) List(runID core.RunID) ([]ListEntry, error) {
	m, err := o.manifests.Load(runID)
	if err != nil {
		return nil, err
	}
	out := make([]ListEntry, 0, len(m.Integrations))
	for _, integ := range m.Integrations {
		out = append(out, ListEntry{
			Integration: integ,
			CanRollback: integ.CanRollback(),
		})
	}
	return out, nil
}

// rollbackEntry performs the restore and manifest transition for one
// integration. The caller holds the run lock; the restore engine takes
// the document lock and the manifest store takes the manifest lock, so
// the combined order stays run -> manifest -> document per operation.
func (o *Orchestrator) rollbackEntry(ctx context.Context, runID core.RunID, integ *core.Integration, force bool, entry *EntryResult) error {
	restored, err := o.store.Restore(ctx, integ.SnapshotID, snapshot.RestoreOptions{
		Force:        force,
		BaselineHash: integ.DocumentHash,
	})
	if err != nil {
		return err
	}
	entry.BackupPath = restored.BackupPath

	if err := o.manifests.MarkRolledBack(ctx, runID, integ.IntegrationID); err != nil {
		// The document is already restored. This window is a known
		// limitation: flag it for manual reconciliation instead of
		// guessing at auto-healing.
		o.logger.WithRun(string(runID)).Error("manifest update failed after restore; manual reconciliation required",
			"integration_id", string(integ.IntegrationID), "error", err)
		return core.ErrState(core.CodeManifestInconsistent,
			fmt.Sprintf("restored %s but failed to update manifest for %s", integ.Document, integ.IntegrationID)).WithCause(err)
	}
	integ.Status = core.StatusRolledBack
	entry.Outcome = OutcomeRolledBack

	// Rollback complete: release this run's dependency on the snapshot
	// so cleanup can eventually reclaim it.
	if err := o.store.Refs().Remove(integ.SnapshotID, runID); err != nil {
		o.logger.Warn("failed to release snapshot reference",
			"snapshot_id", string(integ.SnapshotID), "error", err)
	}
	return nil
}

// Package snapshot implements the content-addressed snapshot store used
// by the autonomous integration pipeline: immutable copies of documents
// plus JSON metadata, reference counting against owning runs, quota
// enforcement, and hash-gated restore.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loa-labs/flatline/internal/config"
	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/fsutil"
	"github.com/loa-labs/flatline/internal/gitops"
	"github.com/loa-labs/flatline/internal/hasher"
	"github.com/loa-labs/flatline/internal/lock"
	"github.com/loa-labs/flatline/internal/logging"
	"github.com/loa-labs/flatline/internal/secrets"
	"github.com/loa-labs/flatline/internal/trajectory"
)

const (
	metaSuffix = ".meta.json"
	refsSuffix = ".refs.json"

	idTimeFormat     = "20060102T150405"
	backupTimeFormat = "20060102T150405"

	// storeResource is the lock resource covering snapshot directory
	// bookkeeping (create, eviction, cleanup).
	storeResource = "snapshot-store"
)

// restoreRaceHook runs between the pre-rename hash re-check setup and the
// re-check itself. Tests use it to simulate a concurrent writer inside
// the restore critical section.
var restoreRaceHook func()

// Deps carries the store's collaborators.
type Deps struct {
	ProjectRoot string
	Config      config.SnapshotsConfig
	Hasher      hasher.ContentHasher
	Locks       lock.Service
	Scanner     secrets.Scanner
	Committer   gitops.Committer
	Trajectory  trajectory.Recorder
	Logger      *logging.Logger
	Clock       func() time.Time
}

// Store creates, restores and maintains snapshots.
type Store struct {
	projectRoot string
	dir         string
	cfg         config.SnapshotsConfig
	hasher      hasher.ContentHasher
	locks       lock.Service
	scanner     secrets.Scanner
	committer   gitops.Committer
	refs        *Refs
	quota       *Quota
	traj        trajectory.Recorder
	logger      *logging.Logger
	now         func() time.Time
}

// NewStore wires a snapshot store from its dependencies.
func NewStore(deps Deps) (*Store, error) {
	if deps.ProjectRoot == "" {
		return nil, core.ErrInvalidArgument(core.CodeInvalidArgument, "project root is required")
	}
	if deps.Hasher == nil {
		return nil, core.ErrInvalidArgument(core.CodeInvalidArgument, "content hasher is required")
	}
	if deps.Locks == nil {
		return nil, core.ErrInvalidArgument(core.CodeInvalidArgument, "lock service is required")
	}
	if deps.Trajectory == nil {
		deps.Trajectory = trajectory.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	dir := deps.Config.Dir
	if dir == "" {
		dir = filepath.Join(".flatline", "snapshots")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(deps.ProjectRoot, dir)
	}

	refs := NewRefs(dir)
	s := &Store{
		projectRoot: deps.ProjectRoot,
		dir:         dir,
		cfg:         deps.Config,
		hasher:      deps.Hasher,
		locks:       deps.Locks,
		scanner:     deps.Scanner,
		committer:   deps.Committer,
		refs:        refs,
		quota:       NewQuota(dir, deps.Config, refs, deps.Trajectory, deps.Logger),
		traj:        deps.Trajectory,
		logger:      deps.Logger,
		now:         deps.Clock,
	}
	return s, nil
}

// Refs exposes the reference tracker.
func (s *Store) Refs() *Refs {
	return s.refs
}

// Quota exposes the quota manager.
func (s *Store) Quota() *Quota {
	return s.quota
}

// Dir returns the absolute snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create snapshots the document for runID. The snapshot is immutable
// once written; the creating run gets the initial reference. When the
// git-commit policy is on, content is secret-scanned first and a match
// keeps the snapshot local, signalled as SecretDetected (fatal to the
// commit step only).
func (s *Store) Create(ctx context.Context, document string, runID core.RunID, integrationID core.IntegrationID) (*core.SnapshotMetadata, error) {
	if !s.cfg.Enabled {
		return nil, core.ErrState(core.CodeSnapshotsDisabled, "snapshots are disabled by configuration")
	}
	if runID == "" {
		return nil, core.ErrInvalidArgument(core.CodeInvalidArgument, "run id is required")
	}

	resolved, err := fsutil.ResolveWithinRoot(s.projectRoot, document)
	if err != nil {
		return nil, core.ErrInvalidArgument(core.CodePathEscape, err.Error())
	}
	if _, err := os.Stat(resolved); err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("document", document)
		}
		return nil, fmt.Errorf("checking document: %w", err)
	}

	// Lock order: store bookkeeping before the document, matching the
	// run -> manifest -> document convention used everywhere else.
	storeLock, err := s.locks.Acquire(ctx, storeResource, lock.ClassManifest)
	if err != nil {
		return nil, err
	}
	defer storeLock.Release()

	docLock, err := s.locks.Acquire(ctx, resolved, lock.ClassDocument)
	if err != nil {
		return nil, err
	}
	defer docLock.Release()

	if err := s.quota.Check(); err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(s.dir); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	hash, size, err := s.hasher.HashFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("hashing document: %w", err)
	}

	id := s.uniqueID(hash)
	contentPath := filepath.Join(s.dir, string(id))
	if _, err := fsutil.CopyFileAtomic(resolved, contentPath, 0o600); err != nil {
		return nil, fmt.Errorf("copying snapshot content: %w", err)
	}

	meta := &core.SnapshotMetadata{
		SnapshotID:    id,
		Document:      s.relDocument(resolved),
		RunID:         runID,
		IntegrationID: integrationID,
		Hash:          hash,
		SizeBytes:     size,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.writeMetadata(meta); err != nil {
		return nil, err
	}
	if err := s.refs.Add(id, runID); err != nil {
		return nil, err
	}

	_ = s.traj.Record(trajectory.EventSnapshotCreated, map[string]interface{}{
		"snapshot_id": string(id),
		"document":    meta.Document,
		"run_id":      string(runID),
		"hash":        hash,
		"size_bytes":  size,
	})
	s.logger.WithSnapshot(string(id)).Info("snapshot created",
		"document", meta.Document, "run_id", string(runID))

	if s.cfg.GitCommit && s.committer != nil {
		if err := s.commitSnapshot(ctx, meta, contentPath); err != nil {
			// Snapshot creation already succeeded; the caller gets the
			// metadata alongside the commit-step error.
			return meta, err
		}
	}
	return meta, nil
}

// commitSnapshot runs the secret scan gate and commits the snapshot
// files when clean.
func (s *Store) commitSnapshot(ctx context.Context, meta *core.SnapshotMetadata, contentPath string) error {
	if s.cfg.SecretScanning && s.scanner != nil {
		match, err := s.scanner.Scan(ctx, contentPath)
		if err != nil {
			return fmt.Errorf("secret scan: %w", err)
		}
		if match != nil {
			meta.SecretScanFailed = true
			if err := s.writeMetadata(meta); err != nil {
				return err
			}
			s.logger.WithSnapshot(string(meta.SnapshotID)).Warn(
				"secret detected, snapshot kept local and not committed", "pattern", match.Pattern)
			return core.ErrSecretDetected(meta.Document, match.Pattern)
		}
	}

	message := fmt.Sprintf("flatline: snapshot %s of %s", meta.SnapshotID, meta.Document)
	if err := s.committer.CommitFiles(ctx, message, s.cfg.GitCommitWithHooks,
		contentPath, s.metaPath(meta.SnapshotID)); err != nil {
		return err
	}
	meta.GitCommitted = true
	return s.writeMetadata(meta)
}

// RestoreOptions configures a restore.
type RestoreOptions struct {
	// Force proceeds past divergence from the baseline hash. It never
	// overrides a race detected inside the critical section.
	Force bool
	// BaselineHash is the content hash the live document is expected to
	// have (typically recorded at integration time). Empty means the
	// snapshot's own recorded hash.
	BaselineHash string
}

// Restore atomically replaces the live document with the snapshot
// content. The document lock is taken before any comparison to close the
// check-then-act window; a pre-restore backup is always written when the
// live document exists.
func (s *Store) Restore(ctx context.Context, id core.SnapshotID, opts RestoreOptions) (*core.RestoreResult, error) {
	meta, err := s.Metadata(id)
	if err != nil {
		return nil, err
	}
	contentPath := filepath.Join(s.dir, string(id))
	if _, err := os.Stat(contentPath); err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("snapshot content", string(id))
		}
		return nil, fmt.Errorf("checking snapshot content: %w", err)
	}

	resolved, err := fsutil.ResolveWithinRoot(s.projectRoot, meta.Document)
	if err != nil {
		return nil, core.ErrInvalidArgument(core.CodePathEscape, err.Error())
	}

	docLock, err := s.locks.Acquire(ctx, resolved, lock.ClassDocument)
	if err != nil {
		return nil, err
	}
	defer docLock.Release()

	baseline := opts.BaselineHash
	if baseline == "" {
		baseline = meta.Hash
	}

	var backupPath string
	liveExists := false
	var currentHash string
	if _, err := os.Stat(resolved); err == nil {
		liveExists = true
		currentHash, _, err = s.hasher.HashFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("hashing live document: %w", err)
		}
		if !opts.Force && currentHash != baseline {
			return nil, core.ErrDivergenceDetected(meta.Document, baseline, currentHash)
		}

		backupPath = fmt.Sprintf("%s.pre-rollback-%s", resolved, s.now().UTC().Format(backupTimeFormat))
		if _, err := fsutil.CopyFileAtomic(resolved, backupPath, 0o600); err != nil {
			return nil, fmt.Errorf("writing pre-restore backup: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking live document: %w", err)
	}

	if restoreRaceHook != nil {
		restoreRaceHook()
	}

	// Re-check immediately before the final move. A change here means a
	// concurrent writer inside the critical section: always fatal,
	// regardless of force.
	if liveExists {
		recheck, _, err := s.hasher.HashFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("re-hashing live document: %w", err)
		}
		if recheck != currentHash {
			return nil, core.ErrRaceDetected(meta.Document)
		}
	} else if _, err := os.Stat(resolved); err == nil {
		// The document did not exist at the first check but does now:
		// that is a concurrent writer too.
		return nil, core.ErrRaceDetected(meta.Document)
	}

	if _, err := fsutil.CopyFileAtomic(contentPath, resolved, 0o644); err != nil {
		return nil, fmt.Errorf("restoring document: %w", err)
	}

	// The restore must leave the document at exactly the recorded hash.
	restoredHash, _, err := s.hasher.HashFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("verifying restored document: %w", err)
	}
	if restoredHash != meta.Hash {
		return nil, core.ErrState(core.CodeManifestInconsistent,
			fmt.Sprintf("restored %s but hash %s does not match recorded %s", meta.Document, restoredHash, meta.Hash))
	}

	if backupPath != "" {
		backupPath = s.relDocument(backupPath)
	}
	result := &core.RestoreResult{
		SnapshotID: id,
		Document:   meta.Document,
		BackupPath: backupPath,
		Hash:       meta.Hash,
		RestoredAt: s.now().UTC(),
	}
	_ = s.traj.Record(trajectory.EventSnapshotRestored, map[string]interface{}{
		"snapshot_id": string(id),
		"document":    meta.Document,
		"backup_path": backupPath,
	})
	s.logger.WithSnapshot(string(id)).Info("snapshot restored", "document", meta.Document)
	return result, nil
}

// Metadata loads a snapshot's metadata record.
func (s *Store) Metadata(id core.SnapshotID) (*core.SnapshotMetadata, error) {
	if !core.ValidSnapshotID(id) {
		return nil, core.ErrInvalidArgument(core.CodeInvalidArgument, fmt.Sprintf("invalid snapshot id: %q", id))
	}
	data, err := fsutil.ReadFileScoped(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("snapshot", string(id))
		}
		return nil, fmt.Errorf("reading snapshot metadata: %w", err)
	}
	var meta core.SnapshotMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, core.ErrState(core.CodeManifestCorrupted,
			fmt.Sprintf("snapshot metadata for %s is corrupted", id)).WithCause(err)
	}
	return &meta, nil
}

// List returns snapshot metadata, newest first, optionally filtered by
// owning run.
func (s *Store) List(runID core.RunID) ([]core.SnapshotMetadata, error) {
	metas, err := readAllMetadata(s.dir)
	if err != nil {
		return nil, err
	}
	out := metas[:0]
	for _, meta := range metas {
		if runID != "" && meta.RunID != runID {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SnapshotID > out[j].SnapshotID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CleanupReport summarizes a cleanup pass.
type CleanupReport struct {
	DryRun     bool              `json:"dry_run"`
	Deleted    []core.SnapshotID `json:"deleted"`
	Skipped    []core.SnapshotID `json:"skipped"`
	FreedBytes int64             `json:"freed_bytes"`
	Backups    []string          `json:"backups,omitempty"`
}

// Cleanup deletes snapshots older than maxAgeDays with zero references.
// Referenced snapshots survive regardless of age. Pre-restore backups
// are inventoried for visibility but never auto-deleted.
func (s *Store) Cleanup(ctx context.Context, maxAgeDays int, dryRun bool) (*CleanupReport, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = s.cfg.MaxAgeDays
	}
	if maxAgeDays <= 0 {
		return nil, core.ErrInvalidArgument(core.CodeInvalidArgument, "max age must be positive")
	}
	cutoff := s.now().UTC().AddDate(0, 0, -maxAgeDays)

	report := &CleanupReport{DryRun: dryRun}

	if !dryRun {
		storeLock, err := s.locks.Acquire(ctx, storeResource, lock.ClassManifest)
		if err != nil {
			return nil, err
		}
		defer storeLock.Release()
	}

	metas, err := readAllMetadata(s.dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})

	seen := map[string]bool{}
	for _, meta := range metas {
		if doc := meta.Document; !seen[doc] {
			seen[doc] = true
			report.Backups = append(report.Backups, s.backupsFor(doc)...)
		}

		if !meta.CreatedAt.Before(cutoff) {
			continue
		}
		n, err := s.refs.Count(meta.SnapshotID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			report.Skipped = append(report.Skipped, meta.SnapshotID)
			continue
		}
		if !dryRun {
			if err := deleteSnapshotFiles(s.dir, meta.SnapshotID, s.refs); err != nil {
				return nil, err
			}
		}
		report.Deleted = append(report.Deleted, meta.SnapshotID)
		report.FreedBytes += meta.SizeBytes
	}
	return report, nil
}

// backupsFor lists pre-rollback backups lying next to a document.
func (s *Store) backupsFor(document string) []string {
	resolved, err := fsutil.ResolveWithinRoot(s.projectRoot, document)
	if err != nil {
		return nil
	}
	matches, err := filepath.Glob(resolved + ".pre-rollback-*")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, s.relDocument(m))
	}
	return out
}

func (s *Store) metaPath(id core.SnapshotID) string {
	return filepath.Join(s.dir, string(id)+metaSuffix)
}

func (s *Store) writeMetadata(meta *core.SnapshotMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.metaPath(meta.SnapshotID), data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot metadata: %w", err)
	}
	return nil
}

// relDocument stores document paths relative to the project root so
// snapshots stay valid when the checkout moves.
func (s *Store) relDocument(resolved string) string {
	if rel, err := filepath.Rel(s.projectRoot, resolved); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return resolved
}

// uniqueID builds <timestamp>_<8-hex-prefix>, suffixing a counter in the
// unlikely case of a same-second, same-content collision.
func (s *Store) uniqueID(hash string) core.SnapshotID {
	base := fmt.Sprintf("%s_%s", s.now().UTC().Format(idTimeFormat), hash[:8])
	id := base
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(s.dir, id)); os.IsNotExist(err) {
			return core.SnapshotID(id)
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// readAllMetadata decodes every metadata file in dir. Unreadable entries
// are skipped; maintenance must not be blocked by one corrupt record.
func readAllMetadata(dir string) ([]core.SnapshotMetadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning snapshot directory: %w", err)
	}
	var metas []core.SnapshotMetadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name())) // #nosec G304 -- entries come from ReadDir
		if err != nil {
			continue
		}
		var meta core.SnapshotMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

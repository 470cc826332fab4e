package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loa-labs/flatline/internal/config"
	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/hasher"
	"github.com/loa-labs/flatline/internal/lock"
	"github.com/loa-labs/flatline/internal/trajectory"
)

// captureRecorder collects trajectory events for assertions.
type captureRecorder struct {
	events []string
	data   []map[string]interface{}
}

func (c *captureRecorder) Record(event string, data map[string]interface{}) error {
	c.events = append(c.events, event)
	c.data = append(c.data, data)
	return nil
}

func (c *captureRecorder) has(event string) bool {
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

func testConfig() config.SnapshotsConfig {
	return config.SnapshotsConfig{
		Enabled:       true,
		Dir:           ".flatline/snapshots",
		MaxAgeDays:    30,
		MaxCount:      100,
		MaxBytes:      1 << 20,
		OnQuota:       config.QuotaPolicyFail,
		HashAlgorithm: "sha256",
	}
}

func newTestStore(t *testing.T, cfg config.SnapshotsConfig) (*Store, string, *captureRecorder) {
	t.Helper()
	root := t.TempDir()
	rec := &captureRecorder{}
	h, err := hasher.New(cfg.HashAlgorithm)
	if err != nil {
		t.Fatalf("hasher.New() error = %v", err)
	}
	store, err := NewStore(Deps{
		ProjectRoot: root,
		Config:      cfg,
		Hasher:      h,
		Locks:       lock.NewUnlockedService(trajectory.Nop{}),
		Trajectory:  rec,
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store, root, rec
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}

func TestCreateWritesImmutableSnapshot(t *testing.T) {
	store, root, rec := newTestStore(t, testConfig())
	docPath := filepath.Join(root, "notes.txt")
	mustWriteFile(t, docPath, "version-1")

	meta, err := store.Create(context.Background(), "notes.txt", "run-A", "int-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if meta.Document != "notes.txt" {
		t.Fatalf("Document = %q, want notes.txt", meta.Document)
	}
	if meta.RunID != "run-A" || meta.IntegrationID != "int-1" {
		t.Fatalf("ownership = %s/%s, want run-A/int-1", meta.RunID, meta.IntegrationID)
	}
	if meta.SizeBytes != int64(len("version-1")) {
		t.Fatalf("SizeBytes = %d, want %d", meta.SizeBytes, len("version-1"))
	}

	contentPath := filepath.Join(store.Dir(), string(meta.SnapshotID))
	if mustRead(t, contentPath) != "version-1" {
		t.Fatalf("snapshot content does not match document")
	}
	info, err := os.Stat(contentPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("snapshot perm = %o, want 600", perm)
	}

	// The creating run holds the initial reference.
	n, err := store.Refs().Count(meta.SnapshotID)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("reference count = %d, want 1", n)
	}

	if !rec.has(trajectory.EventSnapshotCreated) {
		t.Fatalf("expected %s trajectory event, got %v", trajectory.EventSnapshotCreated, rec.events)
	}
}

func TestCreateRejectsPathEscape(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())

	outside := filepath.Join(filepath.Dir(root), "outside.txt")
	mustWriteFile(t, outside, "secret")
	t.Cleanup(func() { os.Remove(outside) })

	for _, doc := range []string{"../outside.txt", outside} {
		_, err := store.Create(context.Background(), doc, "run-A", "")
		if !core.IsCategory(err, core.ErrCatValidation) {
			t.Fatalf("Create(%q) error = %v, want validation error", doc, err)
		}
	}
}

func TestCreateMissingDocument(t *testing.T) {
	store, _, _ := newTestStore(t, testConfig())
	_, err := store.Create(context.Background(), "absent.txt", "run-A", "")
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("Create() error = %v, want not found", err)
	}
}

func TestCreateDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	store, root, _ := newTestStore(t, cfg)
	mustWriteFile(t, filepath.Join(root, "doc.txt"), "x")

	_, err := store.Create(context.Background(), "doc.txt", "run-A", "")
	if !core.IsCategory(err, core.ErrCatState) {
		t.Fatalf("Create() error = %v, want state error", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	store, root, rec := newTestStore(t, testConfig())
	docPath := filepath.Join(root, "notes.txt")
	mustWriteFile(t, docPath, "version-1")

	meta, err := store.Create(context.Background(), "notes.txt", "run-A", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	result, err := store.Restore(context.Background(), meta.SnapshotID, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if mustRead(t, docPath) != "version-1" {
		t.Fatalf("document content changed on no-op restore")
	}
	if result.Hash != meta.Hash {
		t.Fatalf("restored hash = %s, want %s", result.Hash, meta.Hash)
	}
	if !rec.has(trajectory.EventSnapshotRestored) {
		t.Fatalf("expected %s trajectory event", trajectory.EventSnapshotRestored)
	}
}

func TestRestoreDetectsDivergence(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())
	docPath := filepath.Join(root, "notes.txt")
	mustWriteFile(t, docPath, "version-1")

	meta, err := store.Create(context.Background(), "notes.txt", "run-A", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mustWriteFile(t, docPath, "version-2")

	_, err = store.Restore(context.Background(), meta.SnapshotID, RestoreOptions{})
	if !core.IsCategory(err, core.ErrCatDivergence) {
		t.Fatalf("Restore() error = %v, want divergence", err)
	}
	if got := mustRead(t, docPath); got != "version-2" {
		t.Fatalf("document = %q after rejected restore, want version-2 untouched", got)
	}

	// Force overrides divergence and restores the recorded content.
	result, err := store.Restore(context.Background(), meta.SnapshotID, RestoreOptions{Force: true})
	if err != nil {
		t.Fatalf("Restore(force) error = %v", err)
	}
	if got := mustRead(t, docPath); got != "version-1" {
		t.Fatalf("document = %q after forced restore, want version-1", got)
	}
	if result.BackupPath == "" {
		t.Fatalf("forced restore should report a backup path")
	}
	if got := mustRead(t, filepath.Join(root, result.BackupPath)); got != "version-2" {
		t.Fatalf("backup = %q, want the overwritten version-2", got)
	}
}

func TestRestoreDetectsRaceEvenWithForce(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())
	docPath := filepath.Join(root, "notes.txt")
	mustWriteFile(t, docPath, "version-1")

	meta, err := store.Create(context.Background(), "notes.txt", "run-A", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mustWriteFile(t, docPath, "version-2")

	restoreRaceHook = func() {
		// Concurrent writer lands inside the critical section.
		mustWriteFile(t, docPath, "version-3")
	}
	t.Cleanup(func() { restoreRaceHook = nil })

	_, err = store.Restore(context.Background(), meta.SnapshotID, RestoreOptions{Force: true})
	if !core.IsCategory(err, core.ErrCatRace) {
		t.Fatalf("Restore() error = %v, want race", err)
	}
	if got := mustRead(t, docPath); got != "version-3" {
		t.Fatalf("document = %q after aborted restore, want version-3 untouched", got)
	}
}

func TestRestoreDetectsRaceWhenDocumentAppears(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())
	docPath := filepath.Join(root, "notes.txt")
	mustWriteFile(t, docPath, "version-1")

	meta, err := store.Create(context.Background(), "notes.txt", "run-A", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Document deleted after snapshot; a restore from this state is valid
	// only if nothing recreates it mid-flight.
	if err := os.Remove(docPath); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	restoreRaceHook = func() {
		// Concurrent writer recreates the document inside the critical
		// section.
		mustWriteFile(t, docPath, "concurrent")
	}
	t.Cleanup(func() { restoreRaceHook = nil })

	_, err = store.Restore(context.Background(), meta.SnapshotID, RestoreOptions{Force: true})
	if !core.IsCategory(err, core.ErrCatRace) {
		t.Fatalf("Restore() error = %v, want race", err)
	}
	if got := mustRead(t, docPath); got != "concurrent" {
		t.Fatalf("document = %q after aborted restore, want concurrent write untouched", got)
	}
}

func TestRestoreBaselineHash(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())
	docPath := filepath.Join(root, "notes.txt")
	mustWriteFile(t, docPath, "before")

	meta, err := store.Create(context.Background(), "notes.txt", "run-A", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Integration applies its change; the post-apply hash becomes the
	// rollback baseline.
	mustWriteFile(t, docPath, "after")
	h, _ := hasher.New("sha256")
	afterHash, _, err := h.HashFile(docPath)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}

	result, err := store.Restore(context.Background(), meta.SnapshotID, RestoreOptions{BaselineHash: afterHash})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if mustRead(t, docPath) != "before" {
		t.Fatalf("rollback did not restore pre-integration content")
	}
	if result.BackupPath == "" {
		t.Fatalf("restore over existing content should write a backup")
	}
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	store, _, _ := newTestStore(t, testConfig())
	_, err := store.Restore(context.Background(), "20240101T000000_deadbeef", RestoreOptions{})
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("Restore() error = %v, want not found", err)
	}
}

func TestRestoreRejectsBadSnapshotID(t *testing.T) {
	store, _, _ := newTestStore(t, testConfig())
	for _, id := range []core.SnapshotID{"", "../evil", "a/b"} {
		_, err := store.Restore(context.Background(), id, RestoreOptions{})
		if !core.IsCategory(err, core.ErrCatValidation) {
			t.Fatalf("Restore(%q) error = %v, want validation", id, err)
		}
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())
	mustWriteFile(t, filepath.Join(root, "a.txt"), "aaa")
	mustWriteFile(t, filepath.Join(root, "b.txt"), "bbb")

	clockTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clockTime }

	if _, err := store.Create(context.Background(), "a.txt", "run-A", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clockTime = clockTime.Add(time.Minute)
	metaB, err := store.Create(context.Background(), "b.txt", "run-B", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	all, err := store.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(all))
	}
	if all[0].SnapshotID != metaB.SnapshotID {
		t.Fatalf("List() not newest-first: got %s first", all[0].SnapshotID)
	}

	onlyB, err := store.List("run-B")
	if err != nil {
		t.Fatalf("List(run-B) error = %v", err)
	}
	if len(onlyB) != 1 || onlyB[0].RunID != "run-B" {
		t.Fatalf("List(run-B) = %+v, want the single run-B snapshot", onlyB)
	}
}

func TestCleanupSparesReferencedSnapshots(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())
	mustWriteFile(t, filepath.Join(root, "old-ref.txt"), "referenced")
	mustWriteFile(t, filepath.Join(root, "old-free.txt"), "unreferenced")

	old := time.Now().UTC().AddDate(0, 0, -60)
	store.now = func() time.Time { return old }

	metaRef, err := store.Create(context.Background(), "old-ref.txt", "run-A", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	metaFree, err := store.Create(context.Background(), "old-free.txt", "run-B", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// run-B releases its reference; run-A keeps its own.
	if err := store.Refs().Remove(metaFree.SnapshotID, "run-B"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	store.now = time.Now

	report, err := store.Cleanup(context.Background(), 30, false)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != metaFree.SnapshotID {
		t.Fatalf("Deleted = %v, want only %s", report.Deleted, metaFree.SnapshotID)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != metaRef.SnapshotID {
		t.Fatalf("Skipped = %v, want only %s", report.Skipped, metaRef.SnapshotID)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), string(metaRef.SnapshotID))); err != nil {
		t.Fatalf("referenced snapshot was deleted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), string(metaFree.SnapshotID))); !os.IsNotExist(err) {
		t.Fatalf("unreferenced snapshot still present")
	}
}

func TestCleanupDryRunDeletesNothing(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())
	mustWriteFile(t, filepath.Join(root, "doc.txt"), "content")

	old := time.Now().UTC().AddDate(0, 0, -60)
	store.now = func() time.Time { return old }
	meta, err := store.Create(context.Background(), "doc.txt", "run-A", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Refs().Remove(meta.SnapshotID, "run-A"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	store.now = time.Now

	report, err := store.Cleanup(context.Background(), 30, true)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if !report.DryRun || len(report.Deleted) != 1 {
		t.Fatalf("dry-run report = %+v, want one planned deletion", report)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), string(meta.SnapshotID))); err != nil {
		t.Fatalf("dry-run deleted the snapshot: %v", err)
	}
}

func TestVerifyFlagsTamperedContent(t *testing.T) {
	store, root, _ := newTestStore(t, testConfig())
	mustWriteFile(t, filepath.Join(root, "doc.txt"), "pristine")

	meta, err := store.Create(context.Background(), "doc.txt", "run-A", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	issues, err := store.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("Verify() = %v on pristine store, want none", issues)
	}

	// Snapshots are immutable by contract; emulate disk corruption.
	contentPath := filepath.Join(store.Dir(), string(meta.SnapshotID))
	if err := os.Chmod(contentPath, 0o600); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	if err := os.WriteFile(contentPath, []byte("tampered!"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	issues, err = store.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(issues) != 1 || issues[0].SnapshotID != meta.SnapshotID {
		t.Fatalf("Verify() = %v, want one issue for %s", issues, meta.SnapshotID)
	}
}

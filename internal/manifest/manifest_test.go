package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/lock"
	"github.com/loa-labs/flatline/internal/trajectory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), lock.NewUnlockedService(trajectory.Nop{}))
}

func sampleIntegration(id core.IntegrationID, doc string) core.Integration {
	return core.Integration{
		IntegrationID: id,
		Type:          "learning",
		Status:        core.StatusApplied,
		SnapshotID:    "20260101T000000_aabbccdd",
		Document:      doc,
		DocumentHash:  "cafe0123",
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAppendAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendIntegration(ctx, "run-A", sampleIntegration("int-1", "skills.md")))
	require.NoError(t, store.AppendIntegration(ctx, "run-A", sampleIntegration("int-2", "notes.md")))

	m, err := store.Load("run-A")
	require.NoError(t, err)
	assert.Equal(t, core.RunID("run-A"), m.RunID)
	require.Len(t, m.Integrations, 2)
	assert.Equal(t, core.IntegrationID("int-1"), m.Integrations[0].IntegrationID)
	assert.Equal(t, core.IntegrationID("int-2"), m.Integrations[1].IntegrationID)
}

func TestAppendRejectsInvalidStatus(t *testing.T) {
	store := newTestStore(t)
	integ := sampleIntegration("int-1", "skills.md")
	integ.Status = "half-applied"

	err := store.AppendIntegration(context.Background(), "run-A", integ)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestLoadMissingManifest(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("run-missing")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestLoadInvalidRunID(t *testing.T) {
	store := newTestStore(t)
	for _, runID := range []core.RunID{"", "../escape", "a/b"} {
		_, err := store.Load(runID)
		assert.True(t, core.IsCategory(err, core.ErrCatValidation), "run id %q", runID)
	}
}

func TestLoadCorruptManifest(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "run-bad.json"), []byte("{not json"), 0o600))

	_, err := store.Load("run-bad")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatState))
}

func TestLoadAllSkipsCorrupt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendIntegration(ctx, "run-A", sampleIntegration("int-1", "skills.md")))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "run-bad.json"), []byte("{not json"), 0o600))

	all, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, core.RunID("run-A"), all[0].RunID)
}

func TestFindIntegration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendIntegration(ctx, "run-A", sampleIntegration("int-1", "skills.md")))
	require.NoError(t, store.AppendIntegration(ctx, "run-B", sampleIntegration("int-2", "notes.md")))

	m, integ, err := store.FindIntegration("int-2")
	require.NoError(t, err)
	assert.Equal(t, core.RunID("run-B"), m.RunID)
	assert.Equal(t, "notes.md", integ.Document)

	_, _, err = store.FindIntegration("int-unknown")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestMarkRolledBackIsOneWay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendIntegration(ctx, "run-A", sampleIntegration("int-1", "skills.md")))

	require.NoError(t, store.MarkRolledBack(ctx, "run-A", "int-1"))

	m, err := store.Load("run-A")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRolledBack, m.Integrations[0].Status)
	assert.False(t, m.Integrations[0].CanRollback())

	// Second transition is refused, not silently absorbed.
	err = store.MarkRolledBack(ctx, "run-A", "int-1")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatState))
}

func TestMarkRolledBackUnknownIntegration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendIntegration(ctx, "run-A", sampleIntegration("int-1", "skills.md")))

	err := store.MarkRolledBack(ctx, "run-A", "int-404")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loa-labs/flatline/internal/lock"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewWiresEverything(t *testing.T) {
	root := t.TempDir()
	cfgFile := writeConfig(t, "project_root: "+root+"\n")

	app, err := New(viper.New(), cfgFile)
	require.NoError(t, err)

	assert.Equal(t, root, app.Config.ProjectRoot)
	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Manifests)
	assert.NotNil(t, app.Orchestrator)
	assert.NotNil(t, app.Trajectory)
	// Locking is on by default.
	_, ok := app.Locks.(*lock.FileService)
	assert.True(t, ok, "expected file-based lock service, got %T", app.Locks)

	assert.Equal(t, filepath.Join(root, ".flatline", "snapshots"), app.Store.Dir())
	assert.Equal(t, filepath.Join(root, ".flatline", "manifests"), app.Manifests.Dir())
}

func TestNewDegradesToUnlocked(t *testing.T) {
	root := t.TempDir()
	cfgFile := writeConfig(t, "project_root: "+root+"\nlocking:\n  enabled: false\n")

	app, err := New(viper.New(), cfgFile)
	require.NoError(t, err)
	_, ok := app.Locks.(*lock.UnlockedService)
	assert.True(t, ok, "expected unlocked service, got %T", app.Locks)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfgFile := writeConfig(t, "snapshots:\n  on_quota: explode\n")
	_, err := New(viper.New(), cfgFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_quota")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]string{"snapshot_id": "x"}))
	assert.Equal(t, "{\n  \"snapshot_id\": \"x\"\n}\n", buf.String())
}

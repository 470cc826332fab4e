// Package manifest persists the per-run integration manifest: the
// authoritative, ordered record of what an integration run changed and
// how to undo it. One JSON document per run, replaced atomically and
// modified only under the run's manifest lock.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/fsutil"
	"github.com/loa-labs/flatline/internal/lock"
)

// Store reads and writes run manifests.
type Store struct {
	dir   string
	locks lock.Service
}

// NewStore creates a manifest store rooted at dir.
func NewStore(dir string, locks lock.Service) *Store {
	return &Store{dir: dir, locks: locks}
}

// Dir returns the manifest directory.
func (s *Store) Dir() string {
	return s.dir
}

func validRunID(runID core.RunID) bool {
	id := string(runID)
	return id != "" && !strings.ContainsAny(id, "/\\") && !strings.Contains(id, "..")
}

func (s *Store) path(runID core.RunID) string {
	return filepath.Join(s.dir, string(runID)+".json")
}

// Load reads the manifest for runID.
func (s *Store) Load(runID core.RunID) (*core.Manifest, error) {
	if !validRunID(runID) {
		return nil, core.ErrInvalidArgument(core.CodeInvalidArgument, fmt.Sprintf("invalid run id: %q", runID))
	}
	data, err := fsutil.ReadFileScoped(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("manifest", string(runID))
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m core.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, core.ErrState(core.CodeManifestCorrupted,
			fmt.Sprintf("manifest for run %s is corrupted", runID)).WithCause(err)
	}
	if m.RunID == "" {
		m.RunID = runID
	}
	return &m, nil
}

// LoadAll reads every manifest in the directory. Corrupt files are
// skipped: one bad run must not block recovery of the others.
func (s *Store) LoadAll() ([]core.Manifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning manifest directory: %w", err)
	}
	var out []core.Manifest
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name())) // #nosec G304 -- entries come from ReadDir
		if err != nil {
			continue
		}
		var m core.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if m.RunID == "" {
			m.RunID = core.RunID(strings.TrimSuffix(entry.Name(), ".json"))
		}
		out = append(out, m)
	}
	return out, nil
}

// FindIntegration scans all manifests for the run owning the given
// integration. Linear search; expected scale is tens of runs.
func (s *Store) FindIntegration(integrationID core.IntegrationID) (*core.Manifest, *core.Integration, error) {
	manifests, err := s.LoadAll()
	if err != nil {
		return nil, nil, err
	}
	for i := range manifests {
		if integ := manifests[i].Find(integrationID); integ != nil {
			return &manifests[i], integ, nil
		}
	}
	return nil, nil, core.ErrNotFound("integration", string(integrationID))
}

// Save writes the manifest atomically. Callers hold the manifest lock.
func (s *Store) Save(m *core.Manifest) error {
	if m == nil || !validRunID(m.RunID) {
		return core.ErrInvalidArgument(core.CodeInvalidArgument, "manifest run id is required")
	}
	if err := fsutil.EnsureDir(s.dir); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path(m.RunID), data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// AppendIntegration adds an applied integration to the run's manifest
// under the manifest lock, creating the manifest on first use.
func (s *Store) AppendIntegration(ctx context.Context, runID core.RunID, integ core.Integration) error {
	if !integ.Status.Valid() {
		return core.ErrInvalidArgument(core.CodeInvalidArgument,
			fmt.Sprintf("invalid integration status: %q", integ.Status))
	}
	release, err := s.lockManifest(ctx, runID)
	if err != nil {
		return err
	}
	defer release()

	m, err := s.Load(runID)
	if err != nil {
		if !core.IsCategory(err, core.ErrCatNotFound) {
			return err
		}
		m = &core.Manifest{RunID: runID}
	}
	m.Integrations = append(m.Integrations, integ)
	return s.Save(m)
}

// MarkRolledBack transitions an integration to rolled_back under the
// manifest lock. The transition is one-way; marking an already
// rolled-back entry is an error surfaced to the caller.
func (s *Store) MarkRolledBack(ctx context.Context, runID core.RunID, integrationID core.IntegrationID) error {
	release, err := s.lockManifest(ctx, runID)
	if err != nil {
		return err
	}
	defer release()

	m, err := s.Load(runID)
	if err != nil {
		return err
	}
	integ := m.Find(integrationID)
	if integ == nil {
		return core.ErrNotFound("integration", string(integrationID))
	}
	if integ.Status == core.StatusRolledBack {
		return core.ErrState(core.CodeManifestInconsistent,
			fmt.Sprintf("integration %s is already rolled back", integrationID))
	}
	integ.Status = core.StatusRolledBack
	return s.Save(m)
}

func (s *Store) lockManifest(ctx context.Context, runID core.RunID) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	l, err := s.locks.Acquire(ctx, string(runID), lock.ClassManifest)
	if err != nil {
		return nil, err
	}
	return func() { _ = l.Release() }, nil
}

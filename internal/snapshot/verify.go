package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loa-labs/flatline/internal/core"
)

// VerifyIssue reports one snapshot whose stored content no longer
// matches its metadata.
type VerifyIssue struct {
	SnapshotID core.SnapshotID `json:"snapshot_id"`
	Problem    string          `json:"problem"`
}

// Verify re-hashes every snapshot against its recorded hash. Snapshots
// are immutable by contract, so any issue means external interference or
// disk corruption. Hashing runs in parallel across snapshots.
func (s *Store) Verify(ctx context.Context) ([]VerifyIssue, error) {
	metas, err := readAllMetadata(s.dir)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var issues []VerifyIssue
	report := func(id core.SnapshotID, problem string) {
		mu.Lock()
		issues = append(issues, VerifyIssue{SnapshotID: id, Problem: problem})
		mu.Unlock()
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, meta := range metas {
		g.Go(func() error {
			contentPath := filepath.Join(s.dir, string(meta.SnapshotID))
			if _, err := os.Stat(contentPath); err != nil {
				if os.IsNotExist(err) {
					report(meta.SnapshotID, "content file missing")
					return nil
				}
				return err
			}
			hash, size, err := s.hasher.HashFile(contentPath)
			if err != nil {
				return err
			}
			if hash != meta.Hash {
				report(meta.SnapshotID, "content hash does not match metadata")
			} else if size != meta.SizeBytes {
				report(meta.SnapshotID, "content size does not match metadata")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].SnapshotID < issues[j].SnapshotID
	})
	return issues, nil
}

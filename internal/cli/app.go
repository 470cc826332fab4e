// Package cli assembles the snapshot/rollback toolchain from
// configuration. Both binaries share this bootstrap so they agree on
// directory layout, locking and logging behavior.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/loa-labs/flatline/internal/config"
	"github.com/loa-labs/flatline/internal/gitops"
	"github.com/loa-labs/flatline/internal/hasher"
	"github.com/loa-labs/flatline/internal/lock"
	"github.com/loa-labs/flatline/internal/logging"
	"github.com/loa-labs/flatline/internal/manifest"
	"github.com/loa-labs/flatline/internal/rollback"
	"github.com/loa-labs/flatline/internal/secrets"
	"github.com/loa-labs/flatline/internal/snapshot"
	"github.com/loa-labs/flatline/internal/trajectory"
)

// App holds the wired toolchain.
type App struct {
	Config       *config.Config
	Logger       *logging.Logger
	Trajectory   trajectory.Recorder
	Locks        lock.Service
	Store        *snapshot.Store
	Manifests    *manifest.Store
	Orchestrator *rollback.Orchestrator
}

// New loads configuration (flags already bound into v by the command
// packages) and wires every component.
func New(v *viper.Viper, cfgFile string) (*App, error) {
	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	trajPath := cfg.Trajectory.Path
	if trajPath != "" && !filepath.IsAbs(trajPath) {
		trajPath = filepath.Join(cfg.ProjectRoot, trajPath)
	}
	var traj trajectory.Recorder = trajectory.Nop{}
	if trajPath != "" {
		traj = trajectory.NewLog(trajPath)
	}

	locks, err := buildLockService(cfg, traj, logger)
	if err != nil {
		return nil, err
	}

	contentHasher, err := hasher.New(cfg.Snapshots.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	var committer gitops.Committer
	if cfg.Snapshots.GitCommit {
		client, err := gitops.NewClient(cfg.ProjectRoot)
		if err != nil {
			// Commit policy is best effort outside a repository.
			logger.Warn("git commit of snapshots disabled", "error", err)
		} else {
			committer = client
		}
	}

	store, err := snapshot.NewStore(snapshot.Deps{
		ProjectRoot: cfg.ProjectRoot,
		Config:      cfg.Snapshots,
		Hasher:      contentHasher,
		Locks:       locks,
		Scanner:     secrets.Resolve(cfg.Snapshots.SecretScannerBin),
		Committer:   committer,
		Trajectory:  traj,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	manifestDir := cfg.Manifests.Dir
	if !filepath.IsAbs(manifestDir) {
		manifestDir = filepath.Join(cfg.ProjectRoot, manifestDir)
	}
	manifests := manifest.NewStore(manifestDir, locks)

	orch := rollback.New(rollback.Deps{
		Store:      store,
		Manifests:  manifests,
		Locks:      locks,
		Trajectory: traj,
		Logger:     logger,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Trajectory:   traj,
		Locks:        locks,
		Store:        store,
		Manifests:    manifests,
		Orchestrator: orch,
	}, nil
}

// buildLockService returns the file-based service, or the degraded
// unlocked service when locking is disabled. Degradation is a documented
// trade-off favoring availability; the unlocked service leaves an audit
// marker on every grant.
func buildLockService(cfg *config.Config, traj trajectory.Recorder, logger *logging.Logger) (lock.Service, error) {
	if !cfg.Locking.Enabled {
		logger.Warn("locking disabled; operating best-effort unlocked")
		return lock.NewUnlockedService(traj), nil
	}
	timeout, err := cfg.Locking.LockTimeout()
	if err != nil {
		return nil, err
	}
	dir := cfg.Locking.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.ProjectRoot, dir)
	}
	return lock.NewFileService(dir, lock.WithTimeout(timeout)), nil
}

// PrintJSON writes the machine-parseable result to w (stdout by
// contract).
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

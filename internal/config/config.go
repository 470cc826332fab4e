package config

import (
	"fmt"
	"time"
)

// Config holds all flatline configuration.
type Config struct {
	ProjectRoot string           `mapstructure:"project_root" yaml:"project_root,omitempty"`
	Snapshots   SnapshotsConfig  `mapstructure:"snapshots" yaml:"snapshots"`
	Manifests   ManifestsConfig  `mapstructure:"manifests" yaml:"manifests"`
	Locking     LockingConfig    `mapstructure:"locking" yaml:"locking"`
	Log         LogConfig        `mapstructure:"log" yaml:"log"`
	Trajectory  TrajectoryConfig `mapstructure:"trajectory" yaml:"trajectory"`
}

// SnapshotsConfig configures the snapshot store and quota policy.
type SnapshotsConfig struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir                string `mapstructure:"dir" yaml:"dir"`
	MaxAgeDays         int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxCount           int    `mapstructure:"max_count" yaml:"max_count"`
	MaxBytes           int64  `mapstructure:"max_bytes" yaml:"max_bytes"`
	OnQuota            string `mapstructure:"on_quota" yaml:"on_quota"` // fail | purge_oldest
	HashAlgorithm      string `mapstructure:"hash_algorithm" yaml:"hash_algorithm"`
	GitCommit          bool   `mapstructure:"git_commit" yaml:"git_commit"`
	GitCommitWithHooks bool   `mapstructure:"git_commit_with_hooks" yaml:"git_commit_with_hooks"`
	SecretScanning     bool   `mapstructure:"secret_scanning" yaml:"secret_scanning"`
	SecretScannerBin   string `mapstructure:"secret_scanner_bin" yaml:"secret_scanner_bin,omitempty"`
}

// ManifestsConfig configures where per-run integration manifests live.
type ManifestsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LockingConfig configures the advisory lock service.
type LockingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Timeout string `mapstructure:"timeout" yaml:"timeout"`
}

// LockTimeout parses the configured lock timeout.
func (c LockingConfig) LockTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid locking.timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("locking.timeout must be positive, got %s", d)
	}
	return d, nil
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TrajectoryConfig configures the trajectory event log.
type TrajectoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// QuotaPolicy values for snapshots.on_quota.
const (
	QuotaPolicyFail        = "fail"
	QuotaPolicyPurgeOldest = "purge_oldest"
)

// Validate checks configuration invariants.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Snapshots.OnQuota {
	case QuotaPolicyFail, QuotaPolicyPurgeOldest:
	default:
		return fmt.Errorf("invalid snapshots.on_quota %q (want %s or %s)",
			cfg.Snapshots.OnQuota, QuotaPolicyFail, QuotaPolicyPurgeOldest)
	}
	switch cfg.Snapshots.HashAlgorithm {
	case "sha256", "blake3":
	default:
		return fmt.Errorf("invalid snapshots.hash_algorithm %q", cfg.Snapshots.HashAlgorithm)
	}
	if cfg.Snapshots.MaxCount < 0 || cfg.Snapshots.MaxBytes < 0 || cfg.Snapshots.MaxAgeDays < 0 {
		return fmt.Errorf("snapshot limits must be non-negative")
	}
	if _, err := cfg.Locking.LockTimeout(); err != nil {
		return err
	}
	return nil
}

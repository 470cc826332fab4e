package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "FLATLINE",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "FLATLINE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (FLATLINE_*)
// 3. Project config (.flatline/config.yaml in current directory)
// 4. User config (~/.config/flatline/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".flatline")
		l.v.AddConfigPath(filepath.Join("$HOME", ".config", "flatline"))
	}

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.ProjectRoot = wd
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("snapshots.enabled", true)
	l.v.SetDefault("snapshots.dir", ".flatline/snapshots")
	l.v.SetDefault("snapshots.max_age_days", 30)
	l.v.SetDefault("snapshots.max_count", 500)
	l.v.SetDefault("snapshots.max_bytes", 104857600) // 100 MiB
	l.v.SetDefault("snapshots.on_quota", QuotaPolicyFail)
	l.v.SetDefault("snapshots.hash_algorithm", "sha256")
	l.v.SetDefault("snapshots.git_commit", false)
	l.v.SetDefault("snapshots.git_commit_with_hooks", false)
	l.v.SetDefault("snapshots.secret_scanning", true)
	l.v.SetDefault("manifests.dir", ".flatline/manifests")
	l.v.SetDefault("locking.enabled", true)
	l.v.SetDefault("locking.dir", ".flatline/locks")
	l.v.SetDefault("locking.timeout", "10s")
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
	l.v.SetDefault("trajectory.path", ".flatline/trajectory.ndjson")
}

// Default returns the built-in configuration, used by `snapshot-tool init`
// to seed a project config file.
func Default() *Config {
	loader := NewLoader()
	loader.setDefaults()
	var cfg Config
	// Unmarshal of pure defaults cannot fail.
	_ = loader.v.Unmarshal(&cfg)
	return &cfg
}

// WriteDefault writes the default configuration as YAML to path,
// refusing to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	header := []byte("# Flatline snapshot/rollback configuration.\n# Values may be overridden with FLATLINE_* environment variables.\n")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(header, data...), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

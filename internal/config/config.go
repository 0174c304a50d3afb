// Package config provides configuration loading and structs for kaizen.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv is appended to Server.APIKeys when set.
const APIKeyEnv = "KAIZEN_API_KEY"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug" toml:"debug"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	Corpus    CorpusConfig    `yaml:"corpus" toml:"corpus"`
	Reconcile ReconcileConfig `yaml:"reconcile" toml:"reconcile"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string          `yaml:"host" toml:"host"`
	Port      int             `yaml:"port" toml:"port"`
	APIKeys   []string        `yaml:"api_keys" toml:"api_keys"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig bounds requests per API key in a sliding window.
// Requests <= 0 disables limiting.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" toml:"requests"`
	Window   time.Duration `yaml:"window" toml:"window"`
}

// StorageConfig holds catalog and artifact locations.
type StorageConfig struct {
	// Driver is the database/sql driver: "sqlite3" (CGO) or "sqlite" (pure Go).
	Driver          string `yaml:"driver" toml:"driver"`
	DatabasePath    string `yaml:"database_path" toml:"database_path"`
	ArtifactBackend string `yaml:"artifact_backend" toml:"artifact_backend"`
	// ArtifactPath is a directory for the json backend and a file for bolt.
	ArtifactPath string `yaml:"artifact_path" toml:"artifact_path"`
	LockDir      string `yaml:"lock_dir" toml:"lock_dir"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" toml:"provider"`
	ModelPath         string        `yaml:"model_path" toml:"model_path"`
	Dimensions        int           `yaml:"dimensions" toml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens" toml:"max_tokens"`
	CacheSize         int           `yaml:"cache_size" toml:"cache_size"`
	Endpoint          string        `yaml:"endpoint" toml:"endpoint"`
	Model             string        `yaml:"model" toml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env" toml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries        int           `yaml:"max_retries" toml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int           `yaml:"burst" toml:"burst"`
}

// CorpusConfig describes the directory corpus source.
type CorpusConfig struct {
	Directory  string   `yaml:"directory" toml:"directory"`
	Extensions []string `yaml:"extensions" toml:"extensions"`
	Recursive  *bool    `yaml:"recursive,omitempty" toml:"recursive,omitempty"`
}

// RecursiveOrDefault returns whether to walk subdirectories; defaults to true when unset.
func (c *CorpusConfig) RecursiveOrDefault() bool {
	if c.Recursive != nil {
		return *c.Recursive
	}
	return true
}

// ReconcileConfig tunes reconciliation runs.
type ReconcileConfig struct {
	Version  string `yaml:"version" toml:"version"`
	Workers  int    `yaml:"workers" toml:"workers"`
	LockWait bool   `yaml:"lock_wait" toml:"lock_wait"`
}

// WatchConfig holds corpus watch settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.ArtifactPath = expandPath(cfg.Storage.ArtifactPath, configDir)
	cfg.Storage.LockDir = expandPath(cfg.Storage.LockDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Corpus.Directory = expandPath(cfg.Corpus.Directory, configDir)

	return &cfg, nil
}

// Default returns a config with defaults and environment overrides applied, for
// running without a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg
}

// Save writes the config to path in the format implied by its extension.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func applyEnv(cfg *Config) {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		for _, k := range cfg.Server.APIKeys {
			if k == key {
				return
			}
		}
		cfg.Server.APIKeys = append(cfg.Server.APIKeys, key)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

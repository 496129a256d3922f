// Package config loads and validates the storage core's configuration,
// following the teacher's own JSON-file-plus-env-override shape.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration tree for one storaged process.
type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Blob      BlobConfig      `json:"blob"`
	Commitlog CommitlogConfig `json:"commitlog"`
	Snapshot  SnapshotConfig  `json:"snapshot"`
	Log       LogConfig       `json:"log"`
}

// StorageConfig tunes the data directory layout shared by every subsystem.
type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

// BlobConfig tunes the blob store tier.
type BlobConfig struct {
	// Backend selects "memory" or "badger"; DefaultConfig selects "badger".
	Backend        string `json:"backend"`
	ValueThreshold int64  `json:"value_threshold"`
}

// CommitlogConfig tunes segment rotation.
type CommitlogConfig struct {
	RotateThresholdBytes int64 `json:"rotate_threshold_bytes"`
}

// SnapshotConfig tunes periodic snapshotting. RetentionCount is validated
// but not read by the snapshot worker, which keeps snapshot.RetentionCount
// snapshots.
type SnapshotConfig struct {
	Interval       time.Duration `json:"interval"`
	RetentionCount int           `json:"retention_count"`
}

// LogConfig mirrors the teacher's own log config shape.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or console
}

// DefaultConfig returns a Config with the defaults a fresh local deployment
// should start from.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{DataDir: "./data"},
		Blob: BlobConfig{
			Backend:        "badger",
			ValueThreshold: 1 << 20,
		},
		Commitlog: CommitlogConfig{
			RotateThresholdBytes: 16 * 1024 * 1024,
		},
		Snapshot: SnapshotConfig{
			Interval:       5 * time.Minute,
			RetentionCount: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads and validates a Config from configPath, falling back to
// DefaultConfig() when configPath is empty.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOrDefault tries the STORAGED_CONFIG env var, then a few common
// local paths, falling back to DefaultConfig() if none load cleanly.
func LoadConfigOrDefault() *Config {
	if envPath := os.Getenv("STORAGED_CONFIG"); envPath != "" {
		if cfg, err := LoadConfig(envPath); err == nil {
			return cfg
		}
	}
	possiblePaths := []string{
		"config.json",
		"./config/config.json",
		"/etc/storaged/config.json",
	}
	for _, path := range possiblePaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if cfg, err := LoadConfig(absPath); err == nil {
			return cfg
		}
	}
	return DefaultConfig()
}

func validateConfig(cfg *Config) error {
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if cfg.Blob.Backend != "memory" && cfg.Blob.Backend != "badger" {
		return fmt.Errorf("blob.backend must be \"memory\" or \"badger\", got %q", cfg.Blob.Backend)
	}
	if cfg.Commitlog.RotateThresholdBytes < 4096 {
		return fmt.Errorf("commitlog.rotate_threshold_bytes too small: %d", cfg.Commitlog.RotateThresholdBytes)
	}
	if cfg.Snapshot.RetentionCount < 1 {
		return fmt.Errorf("snapshot.retention_count must be at least 1")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", cfg.Log.Level)
	}
	return nil
}

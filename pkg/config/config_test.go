package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "badger", cfg.Blob.Backend)
	assert.Equal(t, int64(1<<20), cfg.Blob.ValueThreshold)
	assert.Equal(t, int64(16*1024*1024), cfg.Commitlog.RotateThresholdBytes)
	assert.Equal(t, 5*time.Minute, cfg.Snapshot.Interval)
	assert.Equal(t, 2, cfg.Snapshot.RetentionCount)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("non_existent_config.json")
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{invalid json"), 0o644))

	cfg, err := LoadConfig(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_InvalidBlobBackend(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	data, _ := json.Marshal(map[string]interface{}{
		"blob": map[string]interface{}{"backend": "s3"},
	})
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	cfg, err := LoadConfig(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "blob.backend")
}

func TestLoadConfig_InvalidCommitlogThreshold(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	data, _ := json.Marshal(map[string]interface{}{
		"commitlog": map[string]interface{}{"rotate_threshold_bytes": 10},
	})
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	cfg, err := LoadConfig(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_InvalidRetentionCount(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	data, _ := json.Marshal(map[string]interface{}{
		"snapshot": map[string]interface{}{"retention_count": 0},
	})
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	cfg, err := LoadConfig(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	data, _ := json.Marshal(map[string]interface{}{
		"log": map[string]interface{}{"level": "verbose"},
	})
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	cfg, err := LoadConfig(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidConfigOverridesOnlyGivenFields(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	data, _ := json.Marshal(map[string]interface{}{
		"storage": map[string]interface{}{"data_dir": "/var/lib/storaged"},
		"log":     map[string]interface{}{"level": "debug"},
	})
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/storaged", cfg.Storage.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "badger", cfg.Blob.Backend, "fields absent from the file keep their default")
}

func TestLoadConfigOrDefault_WithEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")
	data, _ := json.Marshal(map[string]interface{}{
		"storage": map[string]interface{}{"data_dir": "/tmp/envdir"},
	})
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	oldEnv := os.Getenv("STORAGED_CONFIG")
	t.Cleanup(func() { os.Setenv("STORAGED_CONFIG", oldEnv) })
	os.Setenv("STORAGED_CONFIG", configPath)

	cfg := LoadConfigOrDefault()
	assert.Equal(t, "/tmp/envdir", cfg.Storage.DataDir)
}

func TestLoadConfigOrDefault_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { os.Chdir(oldWd) })

	cfg := LoadConfigOrDefault()
	assert.Equal(t, "./data", cfg.Storage.DataDir)
}

func TestConfigRoundTripsThroughJSON(t *testing.T) {
	cfg := DefaultConfig()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var parsed Config
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, cfg.Storage.DataDir, parsed.Storage.DataDir)
	assert.Equal(t, cfg.Blob.Backend, parsed.Blob.Backend)
	assert.Equal(t, cfg.Snapshot.RetentionCount, parsed.Snapshot.RetentionCount)
}

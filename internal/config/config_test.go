package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/config"
)

func TestLoad_DefaultsFromYAML(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 60*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 60*time.Second, cfg.AutoSyncInterval)
	assert.Equal(t, 168*time.Hour, cfg.UnsyncedRetention)
	assert.Equal(t, int64(100), cfg.StorageCapMB)
	assert.Equal(t, int64(80), cfg.MLStorageCapMB)
	assert.Equal(t, "127.0.0.1:8787", cfg.OperatorAddr)
}

func TestLoad_EnvOverridesYAMLDefault(t *testing.T) {
	t.Setenv("AUTO_SYNC_INTERVAL", "15s")
	t.Setenv("STORAGE_CAP_MB", "250")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.AutoSyncInterval)
	assert.Equal(t, int64(250), cfg.StorageCapMB)
}

func TestConfig_EnvModePredicates(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.False(t, cfg.IsDev())
}

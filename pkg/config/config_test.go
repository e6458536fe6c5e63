package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DriverDuckDB, cfg.Storage.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Linking.TTL)
	assert.Equal(t, 10*time.Second, cfg.Linking.FinalizeTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Alarms.Interval)
	assert.Equal(t, 4, cfg.Ingestion.Workers)
	assert.Equal(t, 2.0, cfg.Alarms.DefaultStdDevs)
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
}

func TestLoadConfig_ValidYAML_OverridesDefaults(t *testing.T) {
	// Given
	dir := t.TempDir()
	path := filepath.Join(dir, "valid.yaml")
	content := `storage:
  driver: memory
connectors:
  aws: mock
  retry:
    attempts: 2
    base_delay: 10ms
linking:
  ttl: 1h
ingestion:
  workers: 8`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When
	cfg, err := LoadConfig(path)

	// Then
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, ConnectorMock, cfg.Connectors.AWS)
	assert.Equal(t, ConnectorReal, cfg.Connectors.GCP)
	assert.Equal(t, 2, cfg.Connectors.Retry.Attempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Connectors.Retry.BaseDelay)
	assert.Equal(t, time.Hour, cfg.Linking.TTL)
	assert.Equal(t, 8, cfg.Ingestion.Workers)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("COSTATLAS_STORAGE_DRIVER", "memory")
	t.Setenv("COSTATLAS_ALARMS_INTERVAL", "1m")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.Alarms.Interval)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad yaml", content: "storage: driver: : bad"},
		{name: "unknown driver", content: "storage:\n  driver: postgres"},
		{name: "unknown connector mode", content: "connectors:\n  gcp: fake"},
		{name: "zero workers", content: "ingestion:\n  workers: 0"},
		{name: "short forecast window", content: "alarms:\n  forecast_window_days: 3"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

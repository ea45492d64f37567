package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidkeeper/internal/infrastructure/repositories"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)
	assert.Equal(t, "oidkeeper", cfg.App.Name)
	assert.Equal(t, repositories.StoreTypeMemory, cfg.Store.Type)
	assert.Equal(t, uint64(5), cfg.Session.Retry.MaxAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestNewConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  log-level: debug
store:
  type: postgresql
  postgresql:
    uri: postgres://localhost:5432/oid
session:
  retry:
    max-attempts: 3
    initial-delay: 10ms
`), 0o600))
	t.Setenv("METRICS_ADDR", ":9999")
	t.Setenv("API_RATE_LIMIT", "2.5")

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Log.Verbosity())
	assert.Equal(t, repositories.StoreTypePostgreSQL, cfg.Store.Type)
	assert.Equal(t, "postgres://localhost:5432/oid", cfg.Store.PostgreSQL.URI)
	assert.Equal(t, int32(30), cfg.Store.PostgreSQL.MaxConns)
	assert.Equal(t, uint64(3), cfg.Session.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Session.Retry.InitialDelay)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
	assert.Equal(t, 2.5, cfg.Metrics.RateLimit)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg.Log.Level = LogLevelInfo
	cfg.Store.Type = repositories.StoreTypePostgreSQL
	assert.Error(t, cfg.Validate())

	cfg.Store.Type = repositories.StoreTypeMemory
	cfg.Session.Retry.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg.Session.Retry.MaxAttempts = 1
	cfg.Metrics.RateBurst = -1
	assert.Error(t, cfg.Validate())
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "audit.sqlite", cfg.DBPath)
	assert.Equal(t, 1200, cfg.RateLimit.Budget)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, int64(10), cfg.Concurrency.APIPool)
	assert.Equal(t, "GRAPH_TOKEN", cfg.Auth.TokenEnvVar)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/audit/tenant.sqlite
log_level: debug
rate_limit:
  budget: 600
  window: 30s
discovery:
  batch_size: 50
  max_depth: 6
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/audit/tenant.sqlite", cfg.DBPath)
	assert.Equal(t, 600, cfg.RateLimit.Budget)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 50, cfg.Discovery.BatchSize)
	assert.Equal(t, 6, cfg.Discovery.MaxDepth)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: from-file.sqlite\n"), 0o644))

	t.Setenv("AUDIT_DB_PATH", "from-env.sqlite")
	t.Setenv("AUDIT_RATE_BUDGET", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.sqlite", cfg.DBPath)
	assert.Equal(t, 42, cfg.RateLimit.Budget)
}

func TestInvalidEnvValueWarnsAndKeepsDefault(t *testing.T) {
	t.Setenv("AUDIT_RATE_BUDGET", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.RateLimit.Budget)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "AUDIT_RATE_BUDGET")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Budget = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Concurrency.APIPool = -1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DBPath = ""
	require.Error(t, cfg.Validate())
}

func TestSlogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	cfg.LogLevel = "nonsense"
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "", cfg.DBPath)
	assert.Equal(t, int64(1), cfg.Ledger.MinRedeem)
	assert.Equal(t, int64(1_000_000), cfg.Ledger.MaxRedeem)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, 3, cfg.Ledger.MaxConflictRetries)
	assert.True(t, cfg.Sweep.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
http_port: 9090
db_path: /tmp/points.db
ledger:
  min_redeem: 10
  max_redeem: 5000
  lock_timeout: 2s
sweep:
  enabled: false
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "/tmp/points.db", cfg.DBPath)
	assert.Equal(t, int64(10), cfg.Ledger.MinRedeem)
	assert.Equal(t, int64(5000), cfg.Ledger.MaxRedeem)
	assert.Equal(t, 2*time.Second, cfg.Ledger.LockTimeout)
	assert.False(t, cfg.Sweep.Enabled)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Ledger.MaxConflictRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: 9090\n"), 0o644))

	t.Setenv("POINTS_HTTP_PORT", "7070")
	t.Setenv("POINTS_MAX_REDEEM", "250000")
	t.Setenv("POINTS_SWEEP_INTERVAL", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.HTTPPort)
	assert.Equal(t, int64(250000), cfg.Ledger.MaxRedeem)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("POINTS_LOCK_TIMEOUT", "sometime")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate_BoundsOrdering(t *testing.T) {
	cfg := Default()
	cfg.Ledger.MinRedeem = 100
	cfg.Ledger.MaxRedeem = 50
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.HTTPPort = 0
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.Sweep.Enabled = true
	cfg.Sweep.Interval = 0
	assert.Error(t, cfg.validate())
}

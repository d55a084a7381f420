package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "DATABASE_URL", "REDIS_ADDR", "NATS_URL", "NOTIFY_BACKEND",
		"TERMINAL_ID", "QUEUE_PATH", "SYNC_INTERVAL_SECONDS", "REQUEST_TIMEOUT_SECONDS",
		"MAX_TRANSACTION_CENTS", "CONFLICT_RULE", "AUTH_SECRET", "MANAGER_PIN", "LOG_DEV",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 5*time.Second, cfg.SyncInterval())
	assert.Equal(t, 8*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "reject_if_server_newer", cfg.ConflictRule)
	assert.Equal(t, NotifyNone, cfg.NotifyBackend)
	assert.Equal(t, "T-01", cfg.TerminalID)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "terminal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
terminal_id: T-07
queue_path: /var/lib/kasirinaja/queue.db
sync_interval_seconds: 15
redis_addr: 127.0.0.1:6379
conflict_rule: force_apply
log_dev: true
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SYNC_INTERVAL_SECONDS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "T-07", cfg.TerminalID)
	assert.Equal(t, "/var/lib/kasirinaja/queue.db", cfg.QueuePath)
	assert.Equal(t, 3, cfg.SyncIntervalSeconds)
	assert.Equal(t, "force_apply", cfg.ConflictRule)
	assert.Equal(t, NotifyRedis, cfg.NotifyBackend, "redis is used when configured")
	assert.True(t, cfg.LogDev)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFLICT_RULE", "last_write_wins")
	t.Setenv("NOTIFY_BACKEND", "stan")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT_RULE")
	assert.Contains(t, err.Error(), "NATS_URL")
}

func TestLoadReportsMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.ErrorContains(t, err, "read config file")
}

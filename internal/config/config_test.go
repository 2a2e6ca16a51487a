package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PENDING_OBSERVER_ROLES", " admin , ,coordinator")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")
	t.Setenv("DEBUG_ROUTES", "true")
	t.Setenv("LOCK_POOL_SIZE", "0")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"admin", "coordinator"}, cfg.ObserverRoles)
	assert.Equal(t, 256, cfg.WSSendBuffer)
	assert.Equal(t, 8, cfg.LockPoolSize)
	assert.True(t, cfg.DebugRoutes)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "info")

	cfg, err := Load([]string{"--port", "7000", "--log-level=debug"})
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--nope"})
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHAT_DOTENV_PROBE=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CHAT_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("CHAT_DOTENV_PROBE"))

	assert.Error(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

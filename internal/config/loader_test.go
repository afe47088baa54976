package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Engine.URL)
	assert.False(t, cfg.Sessions.Enabled)
	assert.Equal(t, 1200, cfg.Sessions.Expiration)
	assert.Equal(t, 0, cfg.Sessions.SweepInterval)
}

func TestLoad_FromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "stateshim.json")
	content := `{
		"server": {"port": 9090},
		"engine": {"url": "http://localhost:9000"},
		"sessions": {"enabled": true, "expiration": 600, "path": "/tmp/shim-sessions"}
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := NewLoader(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://localhost:9000", cfg.Engine.URL)
	assert.True(t, cfg.Sessions.Enabled)
	assert.Equal(t, 600, cfg.Sessions.Expiration)
	assert.Equal(t, "/tmp/shim-sessions", cfg.Sessions.Path)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.json")).Load()
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPTION_ENABLE_STATEFUL_SESSIONS", "true")
	t.Setenv("OPTION_SESSIONS_PATH", "/tmp/env-sessions")
	t.Setenv("OPTION_SESSIONS_EXPIRATION", "300")

	cfg, err := NewLoader("").Load()
	require.NoError(t, err)

	assert.True(t, cfg.Sessions.Enabled)
	assert.Equal(t, "/tmp/env-sessions", cfg.Sessions.Path)
	assert.Equal(t, 300, cfg.Sessions.Expiration)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "stateshim.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"sessions":{"expiration":900}}`), 0600))

	t.Setenv("OPTION_SESSIONS_EXPIRATION", "120")

	cfg, err := NewLoader(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Sessions.Expiration)
}

func TestLoad_InvalidExpirationRejected(t *testing.T) {
	t.Setenv("OPTION_SESSIONS_EXPIRATION", "-5")

	_, err := NewLoader("").Load()
	assert.Error(t, err)
}

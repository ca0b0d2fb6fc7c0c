package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "chat.db", cfg.DBPath)
	assert.Equal(t, "/tmp/http-sucks-chat.sock", cfg.ControlSocket)
	assert.Equal(t, 30, cfg.WriteTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = ":7000"
backend = "memory"
write_timeout = 10
`), 0o644))
	t.Setenv("HSC_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, 10, cfg.WriteTimeout)
	// Fields the file omits keep their defaults.
	assert.Equal(t, "chat.db", cfg.DBPath)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`addr = ":7000"`), 0o644))
	t.Setenv("HSC_CONFIG", path)
	t.Setenv("HSC_ADDR", ":8000")
	t.Setenv("HSC_BACKEND", "memory")
	t.Setenv("HSC_DB_PATH", "/tmp/other.db")
	t.Setenv("HSC_WRITE_TIMEOUT", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.WriteTimeout)
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("HSC_CONFIG", "/nonexistent/chat.toml")

	_, err := Load()
	assert.Error(t, err)
}

func TestMalformedWriteTimeoutIgnored(t *testing.T) {
	t.Setenv("HSC_WRITE_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.WriteTimeout)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KVD_URL", "postgres://localhost/kv")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 10, cfg.MaxConnections)
	require.Equal(t, 30, cfg.ConnectionTimeoutSeconds)
	require.Equal(t, 60, cfg.StatementTimeoutSeconds)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: postgres://file/kv\nmax_connections: 5\n"), 0o600))

	t.Setenv("KVD_MAX_CONNECTIONS", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://file/kv", cfg.URL)
	require.Equal(t, 42, cfg.MaxConnections, "env var overrides the file layer")
}

func TestValidateRequiresURL(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestStatementTimeoutOption(t *testing.T) {
	cfg := Config{StatementTimeoutSeconds: 60}
	require.Equal(t, "statement_timeout=60000", cfg.StatementTimeoutOption())
}

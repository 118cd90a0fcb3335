package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Graph.Backend)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph:
  backend: postgres
  postgres:
    dsn: "postgres://localhost/engine"
embedding:
  chunk_size: 32
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Graph.Backend)
	assert.Equal(t, "postgres://localhost/engine", cfg.Graph.Postgres.DSN)
	assert.Equal(t, 32, cfg.Embedding.ChunkSize)
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Graph.Backend = "mongo"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownSourceDBType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Databases = []SourceDBConfig{{DBCode: "d1", DBType: "oracle"}}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RequiresSecretWhenAuthEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Enabled = true
	assert.Error(t, cfg.Validate())
	cfg.Auth.SecretKey = "shh"
	assert.NoError(t, cfg.Validate())
}

func TestResolveRelativePath(t *testing.T) {
	got := ResolveRelativePath("/etc/engine/config.yaml", "prompts")
	assert.Equal(t, "/etc/engine/prompts", got)

	abs := ResolveRelativePath("/etc/engine/config.yaml", "/tmp/prompts")
	assert.Equal(t, "/tmp/prompts", abs)
}

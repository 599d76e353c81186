package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "uxmcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoaderDefaultsOnly(t *testing.T) {
	loader := NewLoader(LoaderOptions{})
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Database.Driver, cfg.Database.Driver)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestLoaderFileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
log_level: debug
database:
  driver: postgres
  dsn: "postgres://localhost/uxmcp"
vector_store:
  provider: qdrant
  host: vectors.internal
  port: 6334
`)
	loader := NewLoader(LoaderOptions{Path: path})
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "vectors.internal", cfg.VectorStore.Host)
	assert.Equal(t, 6334, cfg.VectorStore.Port)
	// Fields untouched by the file keep their coded defaults.
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.CodeHost.DefaultDeadline)
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, `
database:
  driver: mongo
`)
	loader := NewLoader(LoaderOptions{Path: path})
	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("UXMCP_LOG_LEVEL", "warn")
	loader := NewLoader(LoaderOptions{})
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestStructuralDiffDetectsFileChange(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.Database.Driver = "postgres"
	diffs := a.structuralDiff(b)
	assert.Contains(t, diffs, "database")
}

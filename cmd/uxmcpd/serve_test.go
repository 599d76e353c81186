package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxmcp/uxmcp/pkg/config"
)

func TestConfigPathPrefersFlagOverEnv(t *testing.T) {
	t.Setenv("UXMCP_CONFIG", "/from/env.yaml")
	cli := &CLI{Config: "/from/flag.yaml"}
	assert.Equal(t, "/from/flag.yaml", configPath(cli))
}

func TestConfigPathFallsBackToEnv(t *testing.T) {
	t.Setenv("UXMCP_CONFIG", "/from/env.yaml")
	cli := &CLI{}
	assert.Equal(t, "/from/env.yaml", configPath(cli))
}

func TestConfigPathEmptyWhenNeitherSet(t *testing.T) {
	t.Setenv("UXMCP_CONFIG", "")
	cli := &CLI{}
	assert.Equal(t, "", configPath(cli))
}

func TestLoadConfigAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
}

func TestLoadConfigReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uxmcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\ndatabase:\n  driver: postgres\n  dsn: \"postgres://x\"\n"), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://x", cfg.Database.DSN)
}

func TestLoadConfigAppliesUnprefixedEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DSN", "file:override.db")
	t.Setenv("DATABASE_DRIVER", "mysql")
	t.Setenv("MCP_SERVER_URL", "https://mcp.example.com")
	t.Setenv("LOG_LEVEL", "warning")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "file:override.db", cfg.Database.DSN)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "https://mcp.example.com", cfg.MCP.ServerURL)
	assert.Equal(t, "warning", cfg.LogLevel)
}

func TestLoadConfigRejectsInvalidConfig(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "oracle")
	_, err := loadConfig("")
	require.Error(t, err)
}

func TestNewVectorStoreDefaultsToChromem(t *testing.T) {
	dir := t.TempDir()
	store, err := newVectorStore(config.VectorStoreConfig{PersistPath: dir})
	require.NoError(t, err)
	assert.Equal(t, "chromem", store.Name())
}

func TestNewVectorStoreSelectsChromemExplicitly(t *testing.T) {
	dir := t.TempDir()
	store, err := newVectorStore(config.VectorStoreConfig{Provider: "chromem", PersistPath: dir})
	require.NoError(t, err)
	assert.Equal(t, "chromem", store.Name())
}

func TestNewVectorStoreSelectsQdrant(t *testing.T) {
	store, err := newVectorStore(config.VectorStoreConfig{Provider: "qdrant", Host: "localhost", Port: 6334})
	require.NoError(t, err)
	assert.Equal(t, "qdrant", store.Name())
}

func TestNewVectorStoreSelectsPinecone(t *testing.T) {
	store, err := newVectorStore(config.VectorStoreConfig{Provider: "pinecone", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "pinecone", store.Name())
}

func TestNewVectorStoreRejectsUnknownProvider(t *testing.T) {
	_, err := newVectorStore(config.VectorStoreConfig{Provider: "weaviate"})
	require.Error(t, err)
}

func TestNewVectorStorePineconeRequiresAPIKey(t *testing.T) {
	_, err := newVectorStore(config.VectorStoreConfig{Provider: "pinecone"})
	require.Error(t, err)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Driver = "mongo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestValidateRejectsEmptyDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Database.DSN = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestValidateRejectsUnknownVectorProvider(t *testing.T) {
	cfg := Defaults()
	cfg.VectorStore.Provider = "pgvector"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector_store.provider")
}

func TestValidateRejectsBadRetryPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.Retry.MaxAttempts = 0
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Retry.Factor = 1
	require.Error(t, cfg.Validate())
}

func TestStructuralDiff(t *testing.T) {
	a := Defaults()
	b := Defaults()
	assert.Empty(t, a.structuralDiff(b))

	b.ListenAddr = ":9090"
	assert.Contains(t, a.structuralDiff(b), "listen_addr")

	b = Defaults()
	b.Database.DSN = "file:other.db"
	assert.Contains(t, a.structuralDiff(b), "database")

	b = Defaults()
	b.LogLevel = "debug"
	assert.Empty(t, a.structuralDiff(b))
}

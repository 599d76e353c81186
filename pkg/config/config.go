// Package config holds the root Config struct and its validation. Loading
// and reactive reload live in loader.go.
//
// Example uxmcp.yaml:
//
//	log_level: info
//	database:
//	  driver: sqlite
//	  dsn: "file:uxmcp.db?cache=shared"
//	vector_store:
//	  provider: chromem
//	  persist_path: "./data/vectors"
//	worker_pool:
//	  size: 0   # 0 => 2 * NumCPU
//	code_host:
//	  default_deadline: 30s
//	  allowed_modules: [http, json, string, math]
//	retry:
//	  base_delay: 500ms
//	  factor: 2
//	  cap: 8s
//	  max_attempts: 3
package config

import (
	"fmt"
	"time"
)

// Config is the process-wide configuration tree, populated by koanf from
// defaults < YAML file < environment < CLI flags.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogJSON   bool   `yaml:"log_json"`
	ListenAddr string `yaml:"listen_addr"`

	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	CodeHost    CodeHostConfig    `yaml:"code_host"`
	Retry       RetryConfig       `yaml:"retry"`
	MCP         MCPConfig         `yaml:"mcp"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// EmbedderConfig names the model the Memory Subsystem (§4.6) embeds
// stored/retrieved content with, independent of any agent's own LLM
// profile since embedding and completion are separate model calls.
type EmbedderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres | mysql
	DSN    string `yaml:"dsn"`
}

type VectorStoreConfig struct {
	Provider    string `yaml:"provider"` // chromem | qdrant | pinecone
	PersistPath string `yaml:"persist_path"`
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
	Host        string `yaml:"host"`       // qdrant
	Port        int    `yaml:"port"`       // qdrant
	IndexName   string `yaml:"index_name"` // pinecone
}

type WorkerPoolConfig struct {
	Size int `yaml:"size"` // 0 => 2 * NumCPU, per §5
}

type CodeHostConfig struct {
	DefaultDeadline time.Duration `yaml:"default_deadline"`
	AllowedModules  []string      `yaml:"allowed_modules"`
	MaxResultBytes  int           `yaml:"max_result_bytes"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	Factor      float64       `yaml:"factor"`
	Cap         time.Duration `yaml:"cap"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type MCPConfig struct {
	ServerURL string `yaml:"server_url"`
}

// Defaults returns the config baseline loaded before file/env overrides,
// matching §7's retry policy and §5's worker-pool sizing exactly.
func Defaults() *Config {
	return &Config{
		LogLevel:   "info",
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:uxmcp.db?cache=shared&_fk=1",
		},
		VectorStore: VectorStoreConfig{
			Provider:    "chromem",
			PersistPath: "./data/vectors",
		},
		WorkerPool: WorkerPoolConfig{Size: 0},
		CodeHost: CodeHostConfig{
			DefaultDeadline: 30 * time.Second,
			AllowedModules:  []string{"http", "json", "string", "math"},
			MaxResultBytes:  1 << 20,
		},
		Retry: RetryConfig{
			BaseDelay:   500 * time.Millisecond,
			Factor:      2,
			Cap:         8 * time.Second,
			MaxAttempts: 3,
		},
		MCP:      MCPConfig{ServerURL: "/mcp"},
		Embedder: EmbedderConfig{Model: "text-embedding-3-small"},
		Tracing:  TracingConfig{Enabled: false, SampleRatio: 1},
	}
}

// Validate is called once at boot; failure maps to process exit code 1 (§6).
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: must not be empty")
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant", "pinecone":
	default:
		return fmt.Errorf("vector_store.provider: unsupported provider %q", c.VectorStore.Provider)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts: must be >= 1")
	}
	if c.Retry.Factor <= 1 {
		return fmt.Errorf("retry.factor: must be > 1")
	}
	return nil
}

// structuralDiff lists the fields that differ between c and other and
// require a process restart rather than a reactive reload (listen address,
// DB driver/DSN).
func (c *Config) structuralDiff(other *Config) []string {
	var diffs []string
	if c.ListenAddr != other.ListenAddr {
		diffs = append(diffs, "listen_addr")
	}
	if c.Database.Driver != other.Database.Driver || c.Database.DSN != other.Database.DSN {
		diffs = append(diffs, "database")
	}
	return diffs
}

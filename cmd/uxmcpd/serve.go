package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uxmcp/uxmcp/pkg/broadcaster"
	"github.com/uxmcp/uxmcp/pkg/codehost"
	"github.com/uxmcp/uxmcp/pkg/config"
	"github.com/uxmcp/uxmcp/pkg/docstore"
	"github.com/uxmcp/uxmcp/pkg/embedder/openai"
	"github.com/uxmcp/uxmcp/pkg/httpapi"
	"github.com/uxmcp/uxmcp/pkg/httpretry"
	"github.com/uxmcp/uxmcp/pkg/logging"
	"github.com/uxmcp/uxmcp/pkg/logsink"
	"github.com/uxmcp/uxmcp/pkg/mcpsurface"
	"github.com/uxmcp/uxmcp/pkg/memory"
	"github.com/uxmcp/uxmcp/pkg/metrics"
	"github.com/uxmcp/uxmcp/pkg/registry"
	"github.com/uxmcp/uxmcp/pkg/tracing"
	"github.com/uxmcp/uxmcp/pkg/vectorstore"
	"github.com/uxmcp/uxmcp/pkg/vectorstore/chromem"
	"github.com/uxmcp/uxmcp/pkg/vectorstore/pinecone"
	"github.com/uxmcp/uxmcp/pkg/vectorstore/qdrant"
)

const (
	serverName    = "uxmcp"
	serverVersion = "0.1.0"
)

// ServeCmd starts the full server: config -> logging -> stores -> registry
// -> httpapi -> lifecycle with signal-driven shutdown, the same sequencing
// the teacher's ServeCmd.Run follows, trimmed of hector's A2A/studio layers.
type ServeCmd struct {
	ListenAddr string `name:"listen" help:"Override the configured listen address."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := loadConfig(configPath(cli))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if c.ListenAddr != "" {
		cfg.ListenAddr = c.ListenAddr
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	docs, err := docstore.Open(ctx, docstore.Config{
		Driver: docstore.Dialect(cfg.Database.Driver),
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		slog.Error("document store unreachable", "error", err)
		os.Exit(2)
	}
	defer docs.Close()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: serverName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		slog.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	if shutdowner, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		defer shutdowner.Shutdown(context.Background())
	}
	tracer := tracing.Tracer(serverName)

	vectors, err := newVectorStore(cfg.VectorStore)
	if err != nil {
		slog.Error("vector store init failed", "error", err)
		os.Exit(1)
	}

	embed := openai.New(openai.Config{
		APIKey:  cfg.Embedder.APIKey,
		Model:   cfg.Embedder.Model,
		BaseURL: cfg.Embedder.BaseURL,
		Retry:   httpretry.Default(),
	})

	mem := memory.New(vectors, docs, embed, tracer, memory.Config{MaxMemories: 1000})

	logs := logsink.New(docs.DB(), logsink.Dialect(cfg.Database.Driver))

	m := metrics.New(metrics.Config{Namespace: "uxmcp"})

	host := codehost.New(codehost.Config{
		AllowedModules:  cfg.CodeHost.AllowedModules,
		MaxResultBytes:  cfg.CodeHost.MaxResultBytes,
		DefaultDeadline: cfg.CodeHost.DefaultDeadline,
		PoolSize:        cfg.WorkerPool.Size,
	})

	handlers := httpapi.NewHandlerFactory(host, logs, m)
	reg := registry.New(handlers, docs, cfg.CodeHost.AllowedModules)

	bcast := broadcaster.New()
	mcp := mcpsurface.New(reg)

	router := httpapi.New(httpapi.Deps{
		Registry:      reg,
		CodeHost:      host,
		Memory:        mem,
		Logs:          logs,
		Docs:          docs,
		Metrics:       m,
		Broadcaster:   bcast,
		MCP:           mcp,
		ServerName:    serverName,
		ServerVersion: serverVersion,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("uxmcpd listening", "addr", cfg.ListenAddr, "mcp", cfg.MCP.ServerURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}

// loadConfig layers defaults < YAML file < UXMCP_-prefixed env vars via
// pkg/config, then applies the spec's own unprefixed env names (§6:
// DATABASE_DSN, DATABASE_DRIVER, MCP_SERVER_URL, LOG_LEVEL) as a final
// override, since those follow the original Mongo-era naming convention
// rather than the koanf loader's UXMCP_ prefix.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader(config.LoaderOptions{Path: path, Watch: path != ""})
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("MCP_SERVER_URL"); v != "" {
		cfg.MCP.ServerURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newVectorStore(cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	switch cfg.Provider {
	case "", "chromem":
		return chromem.New(chromem.Config{PersistPath: cfg.PersistPath, Compress: true})
	case "qdrant":
		return qdrant.New(qdrant.Config{Host: cfg.Host, Port: cfg.Port, APIKey: cfg.APIKey})
	case "pinecone":
		return pinecone.New(pinecone.Config{APIKey: cfg.APIKey, Host: cfg.Endpoint, IndexName: cfg.IndexName})
	default:
		return nil, fmt.Errorf("vector_store.provider: unsupported provider %q", cfg.Provider)
	}
}

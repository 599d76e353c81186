package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

const envPrefix = "UXMCP_"

// Loader layers defaults < YAML file < environment variables and, when
// Watch is set, reloads non-structural fields reactively via fsnotify.
type Loader struct {
	k        *koanf.Koanf
	path     string
	watch    bool
	onChange func(*Config, []string)
	stop     chan struct{}
}

type LoaderOptions struct {
	// Path to the YAML config file. Empty means defaults+env only.
	Path string
	// Watch enables fsnotify-based reactive reload of Path.
	Watch bool
	// OnChange is invoked after a successful reload with the new config
	// and the list of fields that differ structurally (restart-required).
	OnChange func(*Config, []string)
}

func NewLoader(opts LoaderOptions) *Loader {
	return &Loader{
		k:        koanf.New("."),
		path:     opts.Path,
		watch:    opts.Watch,
		onChange: opts.OnChange,
		stop:     make(chan struct{}),
	}
}

// Load builds the Config from defaults, then the file (if Path is set),
// then environment variables, validates it, and returns it.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadLayers(); err != nil {
		return nil, err
	}
	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if l.watch && l.path != "" {
		go l.watchFile()
	}
	return cfg, nil
}

func (l *Loader) loadLayers() error {
	def := Defaults()
	defMap := structToMap(def)
	if err := l.k.Load(confmap.Provider(defMap, "."), nil); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	if l.path != "" {
		if err := l.k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return fmt.Errorf("load config file %s: %w", l.path, err)
		}
	}

	if err := l.k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		for _, section := range []string{"database", "vector_store", "worker_pool", "code_host", "retry", "mcp", "embedder", "tracing"} {
			if strings.HasPrefix(key, section+"_") {
				return section + "." + strings.TrimPrefix(key, section+"_")
			}
		}
		return key
	}), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	err := l.k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			TagName:          "yaml",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// watchFile reloads the config whenever Path changes on disk, logging and
// skipping the reload on any transient error rather than crashing the
// watcher goroutine.
func (l *Loader) watchFile() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("config watch: failed to start fsnotify", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(l.path); err != nil {
		slog.Error("config watch: failed to watch file", "path", l.path, "error", err)
		return
	}

	prev, err := l.unmarshal()
	if err != nil {
		prev = Defaults()
	}

	for {
		select {
		case <-l.stop:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.loadLayers(); err != nil {
				slog.Warn("config reload failed", "error", err)
				continue
			}
			next, err := l.unmarshal()
			if err != nil {
				slog.Warn("config reload: unmarshal failed", "error", err)
				continue
			}
			if err := next.Validate(); err != nil {
				slog.Warn("config reload: validation failed", "error", err)
				continue
			}
			diffs := prev.structuralDiff(next)
			if len(diffs) > 0 {
				slog.Warn("config reload: structural fields changed, restart required to apply",
					"fields", diffs)
			}
			prev = next
			if l.onChange != nil {
				l.onChange(next, diffs)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watch error", "error", err)
		}
	}
}

// Stop ends the watch goroutine, if one is running.
func (l *Loader) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// structToMap flattens Config into the map shape confmap.Provider expects,
// using yaml tags so keys line up with the file/env providers.
func structToMap(c *Config) map[string]any {
	return map[string]any{
		"log_level":   c.LogLevel,
		"log_json":    c.LogJSON,
		"listen_addr": c.ListenAddr,
		"database": map[string]any{
			"driver": c.Database.Driver,
			"dsn":    c.Database.DSN,
		},
		"vector_store": map[string]any{
			"provider":     c.VectorStore.Provider,
			"persist_path": c.VectorStore.PersistPath,
			"endpoint":     c.VectorStore.Endpoint,
			"api_key":      c.VectorStore.APIKey,
			"host":         c.VectorStore.Host,
			"port":         c.VectorStore.Port,
			"index_name":   c.VectorStore.IndexName,
		},
		"worker_pool": map[string]any{
			"size": c.WorkerPool.Size,
		},
		"code_host": map[string]any{
			"default_deadline": c.CodeHost.DefaultDeadline.String(),
			"allowed_modules":  c.CodeHost.AllowedModules,
			"max_result_bytes": c.CodeHost.MaxResultBytes,
		},
		"retry": map[string]any{
			"base_delay":   c.Retry.BaseDelay.String(),
			"factor":       c.Retry.Factor,
			"cap":          c.Retry.Cap.String(),
			"max_attempts": c.Retry.MaxAttempts,
		},
		"mcp": map[string]any{
			"server_url": c.MCP.ServerURL,
		},
		"embedder": map[string]any{
			"api_key":  c.Embedder.APIKey,
			"model":    c.Embedder.Model,
			"base_url": c.Embedder.BaseURL,
		},
		"tracing": map[string]any{
			"enabled":      c.Tracing.Enabled,
			"sample_ratio": c.Tracing.SampleRatio,
		},
	}
}

// Package logging builds the process-wide structured logger: a slog.Logger
// whose handler suppresses third-party noise below DEBUG and carries a
// critical flag for the taxonomy's CRITICAL level, which slog itself has no
// native concept of.
package logging

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const modulePrefix = "github.com/uxmcp/uxmcp"

// ParseLevel converts the spec's five-way level vocabulary to slog.Level.
// CRITICAL has no slog equivalent; callers needing it use Critical below,
// which logs at LevelError with a critical=true attribute.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures New.
type Options struct {
	Level  string // DEBUG|INFO|WARNING|ERROR|CRITICAL
	JSON   bool   // JSON handler instead of text; production default
	Output *os.File
}

// New builds the process logger. It is installed as the slog default via
// slog.SetDefault by the caller (cmd/uxmcpd), matching the teacher's
// single-default-logger convention.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := ParseLevel(opts.Level)

	var base slog.Handler
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		base = slog.NewJSONHandler(out, handlerOpts)
	} else {
		base = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(&filteringHandler{handler: base, minLevel: level})
}

// Critical logs at the Bug/invariant-violation severity the taxonomy calls
// CRITICAL — slog has no level above Error, so a bool attribute marks it.
func Critical(l *slog.Logger, msg string, args ...any) {
	l.Error(msg, append([]any{"critical", true}, args...)...)
}

// filteringHandler hides third-party library logs unless the configured
// level is DEBUG, so operators aren't drowned in driver/runtime chatter.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.isOwnPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	return strings.Contains(fn.Name(), modulePrefix)
}

// Package tracing sets up the process-wide OpenTelemetry tracer provider,
// grounded on the teacher's pkg/observability/tracer.go (InitGlobalTracer /
// GetTracer). The teacher defaults to an OTLP/gRPC exporter; this module
// drops that dependency (see DESIGN.md) in favor of the zero-config stdout
// exporter, since UXMCP has no bundled collector to ship alongside it.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config tunes the tracer provider. Disabled leaves the global provider as
// a no-op, matching the teacher's enabled-flag gate.
type Config struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64 // 0..1; 0 defaults to AlwaysSample
	Writer      io.Writer // nil defaults to os.Stdout via stdouttrace default
}

// Init installs the global tracer provider and returns it so callers can
// Shutdown it at process exit.
func Init(ctx context.Context, cfg Config) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns a named tracer from the global provider, matching the
// teacher's GetTracer helper so callers (pkg/memory) don't need to thread a
// provider reference through every constructor.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

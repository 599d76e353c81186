package tracing

import (
	"bytes"
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledInstallsNoopProvider(t *testing.T) {
	tp, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.False(t, span.IsRecording())
}

func TestInitEnabledExportsSpansToWriter(t *testing.T) {
	var buf bytes.Buffer
	tp, err := Init(context.Background(), Config{Enabled: true, ServiceName: "uxmcp-test", Writer: &buf})
	require.NoError(t, err)

	sdkTP, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	require.NoError(t, sdkTP.Shutdown(context.Background()))
	assert.NotEmpty(t, buf.Bytes())
	assert.Contains(t, buf.String(), "op")
}

func TestTracerReturnsUsableTracer(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	tracer := Tracer("pkg/tracing_test")
	require.NotNil(t, tracer)
	_, span := tracer.Start(context.Background(), "op")
	span.End()
}

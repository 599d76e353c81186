package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/uxmcp/uxmcp/pkg/broadcaster"
	"github.com/uxmcp/uxmcp/pkg/codehost"
	"github.com/uxmcp/uxmcp/pkg/docstore"
	"github.com/uxmcp/uxmcp/pkg/logsink"
	"github.com/uxmcp/uxmcp/pkg/mcpsurface"
	"github.com/uxmcp/uxmcp/pkg/memory"
	"github.com/uxmcp/uxmcp/pkg/metrics"
	"github.com/uxmcp/uxmcp/pkg/registry"
	"github.com/uxmcp/uxmcp/pkg/vectorstore"
)

// fakeVectors is a minimal vectorstore.Store so the memory subsystem in the
// wired test server never needs a real embedding backend.
type fakeVectors struct{}

func (fakeVectors) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	return nil
}
func (fakeVectors) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	return nil, nil
}
func (fakeVectors) Delete(ctx context.Context, collection, id string) error           { return nil }
func (fakeVectors) DeleteCollection(ctx context.Context, collection string) error     { return nil }
func (fakeVectors) Name() string                                                     { return "fake" }

type fakeEmbed struct{}

func (fakeEmbed) Embed(ctx context.Context, text string) ([]float32, error) { return []float32{1}, nil }

func newTestServer(t *testing.T) (http.Handler, *registry.Registry) {
	t.Helper()
	docs, err := docstore.Open(context.Background(), docstore.Config{
		Driver: docstore.DialectSQLite, DSN: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	host := codehost.New(codehost.Config{})
	logs := logsink.New(docs.DB(), logsink.DialectSQLite)
	m := metrics.New(metrics.Config{Namespace: "uxmcp_test"})
	mem := memory.New(fakeVectors{}, docs, fakeEmbed{}, noop.NewTracerProvider().Tracer("test"), memory.Config{})

	handlers := NewHandlerFactory(host, logs, m)
	reg := registry.New(handlers, docs, nil)
	bcast := broadcaster.New()
	mcp := mcpsurface.New(reg)

	h := New(Deps{
		Registry: reg, CodeHost: host, Memory: mem, Logs: logs, Docs: docs, Metrics: m,
		Broadcaster: bcast, MCP: mcp, ServerName: "uxmcp-test", ServerVersion: "test",
	})
	return h, reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(blob)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServiceLifecycleAndDynamicDispatch(t *testing.T) {
	h, _ := newTestServer(t)

	created := doJSON(t, h, http.MethodPost, "/services/", map[string]any{
		"name":   "adder",
		"kind":   "tool",
		"route":  "/math/add",
		"method": "GET",
		"handler_src": `function handler(params) return params.x + params.y end`,
		"params": []map[string]any{
			{"name": "x", "type": "number", "required": true},
			{"name": "y", "type": "number", "required": true},
		},
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var svc registry.Service
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &svc))
	assert.NotEmpty(t, svc.ID)

	activated := doJSON(t, h, http.MethodPost, "/services/"+svc.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, activated.Code)

	dispatched := doJSON(t, h, http.MethodGet, "/math/add?x=2&y=3", nil)
	require.Equal(t, http.StatusOK, dispatched.Code)
	var result float64
	require.NoError(t, json.Unmarshal(dispatched.Body.Bytes(), &result))
	assert.Equal(t, 5.0, result)

	deactivated := doJSON(t, h, http.MethodPost, "/services/"+svc.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, deactivated.Code)

	notFound := doJSON(t, h, http.MethodGet, "/math/add?x=2&y=3", nil)
	assert.Equal(t, http.StatusNotFound, notFound.Code)

	deleted := doJSON(t, h, http.MethodDelete, "/services/"+svc.ID+"/", nil)
	assert.Equal(t, http.StatusNoContent, deleted.Code)
}

func TestServiceCreateRejectsInvalidRoute(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/services/", map[string]any{
		"name": "bad", "kind": "tool", "route": "no-leading-slash", "method": "GET",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentCRUD(t *testing.T) {
	h, _ := newTestServer(t)

	created := doJSON(t, h, http.MethodPost, "/agents/", map[string]any{
		"name":   "assistant",
		"policy": map[string]any{"max_iterations": 3},
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var a registry.Agent
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &a))
	assert.NotEmpty(t, a.ID)

	got := doJSON(t, h, http.MethodGet, "/agents/"+a.ID+"/", nil)
	assert.Equal(t, http.StatusOK, got.Code)

	listed := doJSON(t, h, http.MethodGet, "/agents/", nil)
	assert.Equal(t, http.StatusOK, listed.Code)

	deleted := doJSON(t, h, http.MethodDelete, "/agents/"+a.ID+"/", nil)
	assert.Equal(t, http.StatusNoContent, deleted.Code)

	missing := doJSON(t, h, http.MethodGet, "/agents/"+a.ID+"/", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestLLMProfileCRUD(t *testing.T) {
	h, _ := newTestServer(t)

	created := doJSON(t, h, http.MethodPost, "/llms/", map[string]any{
		"name": "default", "model": "gpt-4o", "mode": "json",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var p registry.LLMProfile
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &p))

	updated := doJSON(t, h, http.MethodPut, "/llms/"+p.ID+"/", map[string]any{
		"name": "default", "model": "gpt-4o-mini", "mode": "json",
	})
	require.Equal(t, http.StatusOK, updated.Code)

	deleted := doJSON(t, h, http.MethodDelete, "/llms/"+p.ID+"/", nil)
	assert.Equal(t, http.StatusNoContent, deleted.Code)
}

func TestAgentMemoryEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	created := doJSON(t, h, http.MethodPost, "/agents/", map[string]any{
		"name": "rememberer", "policy": map[string]any{"max_iterations": 3},
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var a registry.Agent
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &a))

	stored := doJSON(t, h, http.MethodPost, "/agents/"+a.ID+"/memory/", map[string]any{
		"content": "the sky is blue",
	})
	require.Equal(t, http.StatusCreated, stored.Code)

	listed := doJSON(t, h, http.MethodGet, "/agents/"+a.ID+"/memory/", nil)
	assert.Equal(t, http.StatusOK, listed.Code)
	var records []memory.Record
	require.NoError(t, json.Unmarshal(listed.Body.Bytes(), &records))
	require.Len(t, records, 1)

	stats := doJSON(t, h, http.MethodGet, "/agents/"+a.ID+"/memory/stats", nil)
	assert.Equal(t, http.StatusOK, stats.Code)
}

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxmcp/uxmcp/pkg/httpretry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

func noRetry() httpretry.Policy { return httpretry.Policy{MaxAttempts: 1} }

func TestEmbedReturnsVector(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0}},
		})
	}))
	defer srv.Close()

	e := New(Config{APIKey: "k", BaseURL: srv.URL, Retry: noRetry()})
	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "text-embedding-3-small", captured["model"])
	assert.Equal(t, []any{"hello world"}, captured["input"])
}

func TestEmbedRejectsEmptyDataResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	e := New(Config{APIKey: "k", BaseURL: srv.URL, Retry: noRetry()})
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	uxErr, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.ProviderBadResponse, uxErr.Kind)
}

func TestEmbedMapsRateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := New(Config{APIKey: "k", BaseURL: srv.URL, Retry: noRetry()})
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	uxErr, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.ProviderRateLimited, uxErr.Kind)
}

func TestEmbedUsesConfiguredModel(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"embedding": []float32{1}}}})
	}))
	defer srv.Close()

	e := New(Config{APIKey: "k", Model: "custom-model", BaseURL: srv.URL, Retry: noRetry()})
	_, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "custom-model", captured["model"])
}

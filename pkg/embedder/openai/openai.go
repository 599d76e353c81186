// Package openai implements memory.Embedder against the OpenAI embeddings
// API, grounded on the teacher's pkg/embedders.OpenAIEmbedder but using
// pkg/httpretry for backoff instead of a hand-rolled retry loop.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uxmcp/uxmcp/pkg/httpretry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Retry   httpretry.Policy
}

type Embedder struct {
	http    *http.Client
	apiKey  string
	baseURL string
	model   string
	retry   httpretry.Policy
}

func New(cfg Config) *Embedder {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = httpretry.Default()
	}
	return &Embedder{
		http:    &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		retry:   retry,
	}
}

type request struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type response struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed implements memory.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := httpretry.Do(ctx, e.retry, func(ctx context.Context) error {
		v, err := e.doOnce(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	return vector, err
}

func (e *Embedder) doOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(request{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, uxerr.Wrap(uxerr.ProviderBadResponse, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, uxerr.Wrap(uxerr.ProviderBadResponse, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+e.apiKey)

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, uxerr.Wrap(uxerr.ProviderUnavailable, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, uxerr.New(uxerr.ProviderRateLimited, string(respBody))
	case resp.StatusCode >= 500:
		return nil, uxerr.New(uxerr.ProviderUnavailable, fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, uxerr.New(uxerr.ProviderBadResponse, string(respBody))
	}

	var wireResp response
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, uxerr.Wrap(uxerr.ProviderBadResponse, err)
	}
	if wireResp.Error != nil {
		return nil, uxerr.New(uxerr.ProviderBadResponse, wireResp.Error.Message)
	}
	if len(wireResp.Data) == 0 {
		return nil, uxerr.New(uxerr.ProviderBadResponse, "empty embedding response")
	}
	return wireResp.Data[0].Embedding, nil
}

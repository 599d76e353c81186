// Package anthropic implements completion.Provider as a raw-HTTP client
// against the Anthropic Messages API, grounded on the teacher's
// pkg/model/anthropic (no vendor SDK, a shared retry-wrapped HTTP client).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uxmcp/uxmcp/pkg/completion"
	"github.com/uxmcp/uxmcp/pkg/httpretry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Retry   httpretry.Policy
}

// Client is a completion.Provider backed by the Anthropic Messages API.
type Client struct {
	http    *http.Client
	apiKey  string
	baseURL string
	model   string
	retry   httpretry.Policy
}

func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = httpretry.Default()
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   cfg.Model,
		retry:   retry,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
}

type wireContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type wireResponse struct {
	Content []wireContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements completion.Provider.
func (c *Client) Complete(ctx context.Context, req completion.Request) (completion.Result, error) {
	var result completion.Result
	err := httpretry.Do(ctx, c.retry, func(ctx context.Context) error {
		r, doErr := c.doOnce(ctx, req)
		if doErr != nil {
			return doErr
		}
		result = r
		return nil
	})
	return result, err
}

func (c *Client) doOnce(ctx context.Context, req completion.Request) (completion.Result, error) {
	wireReq := wireRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if wireReq.MaxTokens == 0 {
		wireReq.MaxTokens = defaultMaxTokens
	}
	for _, m := range req.Messages {
		switch m.Role {
		case completion.RoleSystem:
			wireReq.System = m.Content
		default:
			wireReq.Messages = append(wireReq.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	for _, t := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return completion.Result{}, uxerr.Wrap(uxerr.ProviderBadResponse, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return completion.Result{}, uxerr.Wrap(uxerr.ProviderBadResponse, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return completion.Result{}, uxerr.Wrap(uxerr.ProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return completion.Result{}, uxerr.New(uxerr.ProviderRateLimited, string(respBody))
	case resp.StatusCode >= 500:
		return completion.Result{}, uxerr.New(uxerr.ProviderUnavailable, fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return completion.Result{}, uxerr.New(uxerr.ProviderBadResponse, string(respBody))
	}

	var wireResp wireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return completion.Result{}, uxerr.Wrap(uxerr.ProviderBadResponse, err)
	}
	if wireResp.Error != nil {
		return completion.Result{}, uxerr.New(uxerr.ProviderBadResponse, wireResp.Error.Message)
	}

	var result completion.Result
	for _, block := range wireResp.Content {
		switch block.Type {
		case "text":
			result.Message += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, completion.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	result.Usage = completion.Usage{
		Prompt:     wireResp.Usage.InputTokens,
		Completion: wireResp.Usage.OutputTokens,
		Total:      wireResp.Usage.InputTokens + wireResp.Usage.OutputTokens,
	}
	return result, nil
}

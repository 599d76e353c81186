// Package openai implements completion.Provider against an OpenAI-wire-
// compatible chat completions endpoint (OpenAI itself, or any compatible
// gateway), grounded on the same raw-HTTP, no-vendor-SDK idiom as
// pkg/completion/anthropic.
package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Retry   httpretry.Policy
}

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

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireRequest struct {
	Model          string        `json:"model"`
	Messages       []wireMessage `json:"messages"`
	Tools          []wireTool    `json:"tools,omitempty"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

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
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wireReq.Messages = append(wireReq.Messages, wm)
	}
	for _, t := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	if req.Mode == completion.ModeJSON {
		wireReq.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return completion.Result{}, uxerr.Wrap(uxerr.ProviderBadResponse, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return completion.Result{}, uxerr.Wrap(uxerr.ProviderBadResponse, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+c.apiKey)

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
	if len(wireResp.Choices) == 0 {
		return completion.Result{}, uxerr.New(uxerr.ProviderBadResponse, "no choices returned")
	}

	msg := wireResp.Choices[0].Message
	result := completion.Result{
		Message: msg.Content,
		Usage: completion.Usage{
			Prompt:     wireResp.Usage.PromptTokens,
			Completion: wireResp.Usage.CompletionTokens,
			Total:      wireResp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, completion.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

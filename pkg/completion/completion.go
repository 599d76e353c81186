// Package completion abstracts the LLM-provider boundary (§4.7): text,
// JSON, and tool-calling modes over a single provider-agnostic interface.
// Grounded on the teacher's pkg/model/anthropic (raw-HTTP, no vendor SDK)
// generalised into a provider-pluggable Interface; every provider shares
// the same retry policy (pkg/httpretry) instead of reimplementing backoff.
package completion

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// Mode mirrors registry.CompletionMode but lives here to keep this package
// import-independent of the registry.
type Mode string

const (
	ModeText Mode = "text"
	ModeJSON Mode = "json"
)

// Role is a conversation turn's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation turn. ToolCallID/Name are set on Role=tool
// turns (the result of a prior tool call); ToolCalls is set on
// Role=assistant turns that requested tool calls.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string
	Name       string
	ToolCalls  []ToolCall
}

// ToolCall is the normalised (id, name, arguments) triple every provider's
// native tool-call format is reduced to at the Completion boundary (§9:
// "Provider tool-call formats vary; normalise once... so the Executor
// logic is provider-agnostic").
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSpec is what the executor offers the model to call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Usage is provider-reported token accounting, copied verbatim into the
// Execution Trace.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Request is one completion call.
type Request struct {
	Messages    []Message
	Tools       []ToolSpec
	Mode        Mode
	Temperature float64
	MaxTokens   int
}

// Result is the normalised response.
type Result struct {
	Message   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is implemented once per LLM vendor (anthropic, openai, ...).
// Complete returns a *uxerr.Error of kind ProviderUnavailable,
// ProviderRateLimited, or ProviderBadResponse on failure; httpretry.Do
// retries the first two per §7.
type Provider interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// Interface is what the Agent Executor and Meta-Agent Pipeline call. It
// wraps a Provider and enforces mode=json server-side (resolving the §9
// Open Question: JSON mode is enforced here, once, not left to callers).
type Interface struct {
	provider Provider
}

func New(p Provider) *Interface {
	return &Interface{provider: p}
}

// Complete calls the underlying provider and, for mode=json, guarantees
// the returned Message is valid JSON or returns BadJson — callers never
// need to re-validate.
func (i *Interface) Complete(ctx context.Context, req Request) (Result, error) {
	res, err := i.provider.Complete(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if req.Mode != ModeJSON {
		return res, nil
	}
	if json.Valid([]byte(res.Message)) {
		return res, nil
	}
	// Best-effort extraction: strip a ```json ... ``` or ``` ... ``` fence.
	stripped := stripCodeFence(res.Message)
	if json.Valid([]byte(stripped)) {
		res.Message = stripped
		return res, nil
	}
	return Result{}, uxerr.New(uxerr.BadJson, "completion did not return parseable JSON")
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		first := s[:nl]
		if !strings.Contains(first, "{") && !strings.Contains(first, "[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

package registry

import "time"

// CompletionMode is the response mode an LLM profile is configured for.
type CompletionMode string

const (
	ModeText     CompletionMode = "text"
	ModeJSON     CompletionMode = "json"
	ModeMarkdown CompletionMode = "markdown"
)

// LLMProfile names a configured model endpoint and its default call
// parameters. JSON mode is mandatory for any caller consuming structured
// output (meta-agent, service generator) — enforced in pkg/completion, not
// here; this type only carries the declared mode.
type LLMProfile struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Model        string         `json:"model"`
	BaseURL      string         `json:"base_url,omitempty"`
	APIKey       string         `json:"-"` // never serialised back to clients
	Temperature  float64        `json:"temperature"`
	MaxTokens    int            `json:"max_tokens"`
	Mode         CompletionMode `json:"mode"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Active       bool           `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *LLMProfile) GetID() string   { return p.ID }
func (p *LLMProfile) GetName() string { return p.Name }

func (p *LLMProfile) Validate() []FieldViolation {
	var violations []FieldViolation
	if !nameRE.MatchString(p.Name) {
		violations = append(violations, FieldViolation{"name", "must match [A-Za-z0-9_-]+"})
	}
	if p.Model == "" {
		violations = append(violations, FieldViolation{"model", "must not be empty"})
	}
	switch p.Mode {
	case ModeText, ModeJSON, ModeMarkdown:
	default:
		violations = append(violations, FieldViolation{"mode", "must be one of text,json,markdown"})
	}
	return violations
}

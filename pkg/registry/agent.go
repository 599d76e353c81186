package registry

import "time"

// ReasoningStrategy selects the preamble the Agent Executor adds to the
// system message (grounded on the teacher's pluggable
// reasoning.Strategy interface — chain_of_thought_strategy.go).
type ReasoningStrategy string

const (
	ReasoningStandard       ReasoningStrategy = "standard"
	ReasoningChainOfThought ReasoningStrategy = "chain-of-thought"
	ReasoningTreeOfThought  ReasoningStrategy = "tree-of-thought"
)

// SchemaOrText is either the literal string "text" or a JSON-schema object,
// matching the Agent's input_schema/output_schema fields.
type SchemaOrText struct {
	Text   bool
	Schema map[string]any
}

// IdentityBlock is the agent's backstory/objectives/constraints, formatted
// as bulleted sections in the executor's system message (§4.4 step 1).
type IdentityBlock struct {
	Backstory   string   `json:"backstory,omitempty"`
	Objectives  []string `json:"objectives,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// MemoryConfig tunes the per-agent memory subsystem usage.
type MemoryConfig struct {
	MaxMemories    int    `json:"max_memories"`
	EmbeddingModel string `json:"embedding_model"`
	SearchK        int    `json:"search_k"`
}

// Personality carries the tone/verbosity/empathy/humor directives injected
// into the system message.
type Personality struct {
	Tone      string `json:"tone,omitempty"`
	Verbosity string `json:"verbosity,omitempty"`
	Empathy   string `json:"empathy,omitempty"`
	Humor     string `json:"humor,omitempty"`
}

// DecisionPolicy tunes auto-correction and confirmation behaviour.
type DecisionPolicy struct {
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
	RequireConfirmation []string `json:"require_confirmation,omitempty"`
	AutoCorrectErrors   bool     `json:"auto_correct_errors"`
	ExplainDecisions    bool     `json:"explain_decisions"`
	MaxRetries          int      `json:"max_retries"`
}

// ExecutionPolicy bounds a single agent execution (§4.4, §5).
type ExecutionPolicy struct {
	Temperature            float64 `json:"temperature"`
	MaxTokens              int     `json:"max_tokens"`
	AllowParallelToolCalls bool    `json:"allow_parallel_tool_calls"`
	RequireToolUse         bool    `json:"require_tool_use"`
	MaxIterations          int     `json:"max_iterations"`
}

// Agent is an LLM-bound orchestrator that calls services as tools within a
// bounded loop.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	LLMProfile  string `json:"llm_profile"`
	ToolNames   []string `json:"tool_names"` // spec's "mcp_services"

	SystemPrompt string `json:"system_prompt"`
	PrePrompt    string `json:"pre_prompt,omitempty"`

	InputSchema  SchemaOrText `json:"input_schema"`
	OutputSchema SchemaOrText `json:"output_schema"`

	Policy   ExecutionPolicy `json:"policy"`
	Identity IdentityBlock   `json:"identity"`

	MemoryEnabled bool         `json:"memory_enabled"`
	Memory        MemoryConfig `json:"memory"`

	ReasoningStrategy ReasoningStrategy `json:"reasoning_strategy"`
	Personality       Personality       `json:"personality"`
	Decision          DecisionPolicy    `json:"decision"`

	State  ActivationState `json:"state"`
	Active bool            `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Agent) GetID() string   { return a.ID }
func (a *Agent) GetName() string { return a.Name }

// DefaultExecutionPolicy matches the spec's stated defaults.
func DefaultExecutionPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		Temperature:            0.7,
		MaxTokens:              2048,
		AllowParallelToolCalls: true,
		RequireToolUse:         false,
		MaxIterations:          5,
	}
}

// Validate checks the static structural rules for an agent that don't
// require the rest of the registry (tool-name resolution is checked by
// Registry.ActivateAgent, which has the catalogue view).
func (a *Agent) Validate() []FieldViolation {
	var violations []FieldViolation
	if !nameRE.MatchString(a.Name) {
		violations = append(violations, FieldViolation{"name", "must match [A-Za-z0-9_-]+"})
	}
	if a.Policy.MaxIterations < 1 {
		violations = append(violations, FieldViolation{"policy.max_iterations", "must be >= 1"})
	}
	if a.MemoryEnabled && a.Memory.MaxMemories < 1 {
		violations = append(violations, FieldViolation{"memory.max_memories", "must be >= 1 when memory_enabled"})
	}
	return violations
}

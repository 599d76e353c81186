// Package executor implements the Agent Executor (§4.4): a bounded,
// cancellable tool-call loop over the Completion Interface. Grounded on the
// teacher's pkg/agent/llmagent/flow.go ("outer loop continues until
// IsFinalResponse, each step is preprocess → LLM → postprocess → tools"),
// generalised away from its a2a-go Event/Message/Part plumbing and ADK-style
// processor pipeline into a direct synchronous loop over
// pkg/completion.Interface, since UXMCP has no peer-to-peer agent protocol
// to speak.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/uxmcp/uxmcp/pkg/completion"
	"github.com/uxmcp/uxmcp/pkg/logsink"
	"github.com/uxmcp/uxmcp/pkg/memory"
	"github.com/uxmcp/uxmcp/pkg/registry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// ToolInvoker routes a resolved tool call to its backing service, via the
// Code Host for MCP tools. Kept as an interface so this package doesn't
// import pkg/codehost directly (mirrors pkg/registry.HandlerFactory's
// dependency-inversion shape).
type ToolInvoker interface {
	InvokeTool(ctx context.Context, svc *registry.Service, executionID string, args map[string]any) (any, error)
}

// Options overrides per-call behaviour; zero value uses the agent's own
// policy for everything.
type Options struct {
	Temperature *float64
	MaxTokens   *int
}

// Trace is one iteration's record, persisted to the Log Sink at completion.
type Trace struct {
	Iteration int
	Request   completion.Request
	Result    completion.Result
	ToolCalls []ToolCallTrace
}

type ToolCallTrace struct {
	Name     string
	Args     json.RawMessage
	Result   any
	Err      string
	Duration time.Duration
}

// Result is what Execute returns (§4.4 contract).
type Result struct {
	Output      any
	ToolCalls   int
	Iterations  int
	Usage       completion.Usage
	ExecutionID string
	Success     bool
	Error       error
}

// Executor runs one agent's tool-call loop per Execute call; it holds no
// per-execution state between calls (§5: "Single-threaded per execution;
// multiple executions ... run concurrently").
type Executor struct {
	completion *completion.Interface
	tools      ToolInvoker
	memory     *memory.Subsystem
	logs       *logsink.Sink
	resolve    func(name string) (*registry.Service, bool)
}

func New(comp *completion.Interface, tools ToolInvoker, mem *memory.Subsystem, logs *logsink.Sink, resolve func(name string) (*registry.Service, bool)) *Executor {
	return &Executor{completion: comp, tools: tools, memory: mem, logs: logs, resolve: resolve}
}

// Execute drives the loop for one user turn.
func (e *Executor) Execute(ctx context.Context, a *registry.Agent, input any, history []completion.Message, opts Options) Result {
	executionID := uuid.NewString()

	inputText, err := e.renderInput(a, input)
	if err != nil {
		return Result{ExecutionID: executionID, Success: false, Error: err}
	}

	messages := append([]completion.Message{{Role: completion.RoleSystem, Content: e.buildSystemMessage(ctx, a, inputText)}}, history...)
	messages = append(messages, completion.Message{Role: completion.RoleUser, Content: inputText})

	tools, unresolved := e.buildToolSpecs(a)
	for _, name := range unresolved {
		e.log(ctx, executionID, logsink.LevelWarning, "executor", fmt.Sprintf("tool %q does not resolve to an active service; skipped", name), nil)
	}
	if a.MemoryEnabled {
		tools = append(tools, builtinMemoryTools()...)
	}

	temperature := a.Policy.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := a.Policy.MaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	var traces []Trace
	var totalToolCalls int
	var usage completion.Usage
	forcedReprompt := false

	maxIterations := a.Policy.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}

	var finalMessage string
	var terminalErr error

	// effectiveMax bounds the number of completion calls actually made. It
	// equals maxIterations unless a require_tool_use forced re-prompt fires,
	// in which case it is bumped by one so the re-prompt gets its guaranteed
	// follow-up call instead of being squeezed out by max_iterations.
	effectiveMax := maxIterations

iterationLoop:
	for iteration := 1; iteration <= effectiveMax; iteration++ {
		if err := ctx.Err(); err != nil {
			terminalErr = uxerr.Wrap(uxerr.Cancelled, err)
			break
		}

		req := completion.Request{
			Messages:    messages,
			Tools:       tools,
			Mode:        completion.ModeText,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}
		res, err := e.completion.Complete(ctx, req)
		if err != nil {
			terminalErr = err
			break
		}
		usage.Prompt += res.Usage.Prompt
		usage.Completion += res.Usage.Completion
		usage.Total += res.Usage.Total

		trace := Trace{Iteration: iteration, Request: req, Result: res}

		if len(res.ToolCalls) == 0 {
			if a.Policy.RequireToolUse && iteration == 1 && !forcedReprompt {
				forcedReprompt = true
				effectiveMax++
				messages = append(messages,
					completion.Message{Role: completion.RoleAssistant, Content: res.Message},
					completion.Message{Role: completion.RoleUser, Content: "You must call one of the available tools to answer this request."},
				)
				traces = append(traces, trace)
				continue
			}
			if a.Policy.RequireToolUse && forcedReprompt && totalToolCalls == 0 {
				terminalErr = uxerr.New(uxerr.RequiredToolMissing, "agent did not call a required tool after re-prompt")
				traces = append(traces, trace)
				break
			}
			finalMessage = res.Message
			traces = append(traces, trace)
			break iterationLoop
		}

		assistantMsg := completion.Message{Role: completion.RoleAssistant, Content: res.Message, ToolCalls: res.ToolCalls}
		messages = append(messages, assistantMsg)

		callTraces := e.dispatchToolCalls(ctx, a, executionID, res.ToolCalls)
		for _, ct := range callTraces {
			content := ct.resultText()
			messages = append(messages, completion.Message{
				Role:       completion.RoleTool,
				Content:    content,
				ToolCallID: ct.call.ID,
				Name:       ct.call.Name,
			})
		}
		trace.ToolCalls = toToolCallTraces(callTraces)
		traces = append(traces, trace)
		totalToolCalls += len(callTraces)
	}

	result := Result{ExecutionID: executionID, Iterations: len(traces), Usage: usage, ToolCalls: totalToolCalls}

	switch {
	case terminalErr != nil:
		if k := uxerr.KindOf(terminalErr); k == uxerr.Cancelled {
			result.Error = terminalErr
			result.Output = lastPartial(traces)
		} else {
			result.Error = terminalErr
		}
	case finalMessage == "" && len(traces) >= effectiveMax:
		result.Error = uxerr.New(uxerr.IterationsExhausted, "agent did not reach a final response within max_iterations")
		result.Output = lastPartial(traces)
	default:
		output, err := e.finalizeOutput(ctx, a, finalMessage, messages, tools, temperature, maxTokens, &usage)
		if err != nil {
			result.Error = err
		} else {
			result.Output = output
			result.Success = true
		}
	}

	e.persistTrace(ctx, a, executionID, traces, result)
	if a.MemoryEnabled && result.Success {
		e.writeMemoryForTurn(ctx, a, inputText, result.Output)
	}
	e.logs.CloseExecution(executionID)

	return result
}

// finalizeOutput validates/repairs the final message against output_schema,
// driving up to decision.max_retries repair re-prompts when
// auto_correct_errors is set (§4.4 Termination).
func (e *Executor) finalizeOutput(ctx context.Context, a *registry.Agent, message string, messages []completion.Message, tools []completion.ToolSpec, temperature float64, maxTokens int, usage *completion.Usage) (any, error) {
	if a.OutputSchema.Text {
		return message, nil
	}

	validate := func(text string) (map[string]any, error) {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return nil, err
		}
		schemaLoader := gojsonschema.NewGoLoader(a.OutputSchema.Schema)
		docLoader := gojsonschema.NewGoLoader(parsed)
		result, err := gojsonschema.Validate(schemaLoader, docLoader)
		if err != nil {
			return nil, err
		}
		if !result.Valid() {
			var details []string
			for _, verr := range result.Errors() {
				details = append(details, verr.String())
			}
			return nil, fmt.Errorf("%s", strings.Join(details, "; "))
		}
		return parsed, nil
	}

	parsed, err := validate(message)
	if err == nil {
		return parsed, nil
	}
	if !a.Decision.AutoCorrectErrors {
		return nil, uxerr.New(uxerr.OutputSchemaViolation, err.Error())
	}

	maxRetries := a.Decision.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	current := message
	lastErr := err
	for attempt := 0; attempt < maxRetries; attempt++ {
		messages = append(messages,
			completion.Message{Role: completion.RoleAssistant, Content: current},
			completion.Message{Role: completion.RoleUser, Content: fmt.Sprintf("Your previous response did not match the required schema: %s. Return corrected JSON only.", lastErr.Error())},
		)
		res, err := e.completion.Complete(ctx, completion.Request{
			Messages: messages, Tools: tools, Mode: completion.ModeJSON, Temperature: temperature, MaxTokens: maxTokens,
		})
		if err != nil {
			if uxerr.KindOf(err) != uxerr.BadJson {
				return nil, err
			}
			lastErr = err
			continue
		}
		usage.Prompt += res.Usage.Prompt
		usage.Completion += res.Usage.Completion
		usage.Total += res.Usage.Total
		current = res.Message
		parsed, lastErr = validate(current)
		if lastErr == nil {
			return parsed, nil
		}
	}
	return nil, uxerr.New(uxerr.OutputSchemaViolation, lastErr.Error())
}

func lastPartial(traces []Trace) string {
	if len(traces) == 0 {
		return ""
	}
	return traces[len(traces)-1].Result.Message
}

func (e *Executor) renderInput(a *registry.Agent, input any) (string, error) {
	if a.InputSchema.Text {
		text, ok := input.(string)
		if !ok {
			return "", uxerr.New(uxerr.ValidationFailed, "agent expects text input")
		}
		return text, nil
	}
	schemaLoader := gojsonschema.NewGoLoader(a.InputSchema.Schema)
	docLoader := gojsonschema.NewGoLoader(input)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return "", uxerr.Wrap(uxerr.ValidationFailed, err)
	}
	if !result.Valid() {
		var details []string
		for _, verr := range result.Errors() {
			details = append(details, verr.String())
		}
		return "", uxerr.New(uxerr.ValidationFailed, strings.Join(details, "; "))
	}
	blob, err := json.Marshal(input)
	if err != nil {
		return "", uxerr.Wrap(uxerr.Bug, err)
	}
	return string(blob), nil
}

// buildSystemMessage assembles system_prompt + identity + personality +
// reasoning-strategy preamble + memory retrieval preface (§4.4 step 1).
func (e *Executor) buildSystemMessage(ctx context.Context, a *registry.Agent, query string) string {
	var b strings.Builder
	b.WriteString(a.SystemPrompt)

	if a.Identity.Backstory != "" {
		b.WriteString("\n\n## Backstory\n")
		b.WriteString(a.Identity.Backstory)
	}
	if len(a.Identity.Objectives) > 0 {
		b.WriteString("\n\n## Objectives\n")
		for _, o := range a.Identity.Objectives {
			b.WriteString("- " + o + "\n")
		}
	}
	if len(a.Identity.Constraints) > 0 {
		b.WriteString("\n\n## Constraints\n")
		for _, c := range a.Identity.Constraints {
			b.WriteString("- " + c + "\n")
		}
	}

	if a.Personality.Tone != "" || a.Personality.Verbosity != "" || a.Personality.Empathy != "" || a.Personality.Humor != "" {
		b.WriteString("\n\n## Personality\n")
		for _, kv := range [][2]string{{"Tone", a.Personality.Tone}, {"Verbosity", a.Personality.Verbosity}, {"Empathy", a.Personality.Empathy}, {"Humor", a.Personality.Humor}} {
			if kv[1] != "" {
				b.WriteString(fmt.Sprintf("- %s: %s\n", kv[0], kv[1]))
			}
		}
	}

	if preamble := reasoningPreamble(a.ReasoningStrategy); preamble != "" {
		b.WriteString("\n\n")
		b.WriteString(preamble)
	}

	if a.PrePrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(a.PrePrompt)
	}

	if a.MemoryEnabled && e.memory != nil && query != "" {
		k := a.Memory.SearchK
		if k <= 0 {
			k = 5
		}
		hits, err := e.memory.Search(ctx, a.ID, query, k, memory.Filters{})
		if err == nil && len(hits) > 0 {
			b.WriteString("\n\n## Relevant memories\n")
			for _, h := range hits {
				b.WriteString("- " + h.Record.Content + "\n")
			}
		}
	}

	return b.String()
}

func reasoningPreamble(strategy registry.ReasoningStrategy) string {
	switch strategy {
	case registry.ReasoningChainOfThought:
		return "## Reasoning\nThink step by step before answering or calling a tool. Do not skip steps."
	case registry.ReasoningTreeOfThought:
		return "## Reasoning\nConsider multiple candidate approaches before committing to one; briefly weigh tradeoffs internally."
	default:
		return ""
	}
}

// buildToolSpecs resolves the agent's declared tool names against active
// services, skipping (and reporting) names that don't resolve (§4.4 step 2).
func (e *Executor) buildToolSpecs(a *registry.Agent) (specs []completion.ToolSpec, unresolved []string) {
	for _, name := range a.ToolNames {
		svc, ok := e.resolve(name)
		if !ok || !svc.Active {
			unresolved = append(unresolved, name)
			continue
		}
		specs = append(specs, completion.ToolSpec{
			Name:        svc.Name,
			Description: svc.Description,
			InputSchema: svc.InputSchema,
		})
	}
	return specs, unresolved
}

type callTrace struct {
	call   completion.ToolCall
	result any
	err    error
	dur    time.Duration
}

func (c callTrace) resultText() string {
	if c.err != nil {
		return fmt.Sprintf(`{"error": %q}`, c.err.Error())
	}
	blob, err := json.Marshal(c.result)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(blob)
}

func toToolCallTraces(calls []callTrace) []ToolCallTrace {
	out := make([]ToolCallTrace, 0, len(calls))
	for _, c := range calls {
		t := ToolCallTrace{Name: c.call.Name, Args: c.call.Arguments, Result: c.result, Duration: c.dur}
		if c.err != nil {
			t.Err = c.err.Error()
		}
		out = append(out, t)
	}
	return out
}

// dispatchToolCalls runs every requested tool call — concurrently if the
// agent allows parallel calls, sequentially otherwise — but always appends
// results to the conversation in request order (Invariant 5: result
// ordering matches request order regardless of completion order).
func (e *Executor) dispatchToolCalls(ctx context.Context, a *registry.Agent, executionID string, calls []completion.ToolCall) []callTrace {
	out := make([]callTrace, len(calls))

	invoke := func(i int) {
		start := time.Now()
		call := calls[i]
		result, err := e.invokeOne(ctx, a, executionID, call)
		out[i] = callTrace{call: call, result: result, err: err, dur: time.Since(start)}
	}

	if a.Policy.AllowParallelToolCalls && len(calls) > 1 {
		var g errgroup.Group
		for i := range calls {
			g.Go(func() error {
				invoke(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range calls {
			invoke(i)
		}
	}
	return out
}

func (e *Executor) invokeOne(ctx context.Context, a *registry.Agent, executionID string, call completion.ToolCall) (any, error) {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, uxerr.Wrap(uxerr.BadResult, err)
		}
	}

	if builtin, ok := builtinHandler(call.Name); ok {
		return builtin(ctx, e.memory, a.ID, args)
	}

	svc, ok := e.resolve(call.Name)
	if !ok {
		return nil, uxerr.New(uxerr.UnknownService, fmt.Sprintf("tool %q does not resolve to a known service", call.Name))
	}
	return e.tools.InvokeTool(ctx, svc, executionID, args)
}

func (e *Executor) log(ctx context.Context, executionID string, level logsink.Level, module, message string, details map[string]any) {
	_ = e.logs.Write(ctx, logsink.Entry{
		ExecutionID: executionID,
		Level:       level,
		Module:      module,
		Message:     message,
		Details:     details,
	})
}

func (e *Executor) persistTrace(ctx context.Context, a *registry.Agent, executionID string, traces []Trace, result Result) {
	for _, t := range traces {
		details := map[string]any{
			"iteration":  t.Iteration,
			"usage":      t.Result.Usage,
			"tool_calls": len(t.ToolCalls),
		}
		level := logsink.LevelInfo
		e.log(ctx, executionID, level, "executor", fmt.Sprintf("iteration %d completed", t.Iteration), details)
	}
	if result.Error != nil {
		e.log(ctx, executionID, logsink.LevelError, "executor", result.Error.Error(), map[string]any{"agent_id": a.ID})
	}
}

func (e *Executor) writeMemoryForTurn(ctx context.Context, a *registry.Agent, input string, output any) {
	outputText, ok := output.(string)
	if !ok {
		blob, err := json.Marshal(output)
		if err != nil {
			return
		}
		outputText = string(blob)
	}
	_, _ = e.memory.Store(ctx, a.ID, input, memory.ContentUserMessage, memory.ImportanceConversation, nil)
	_, _ = e.memory.Store(ctx, a.ID, outputText, memory.ContentAgentResponse, memory.ImportanceConversation, nil)
}

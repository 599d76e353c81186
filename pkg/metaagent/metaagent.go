// Package metaagent implements the Meta-Agent Pipeline (§4.5): given a
// natural-language requirement, analyse it, identify and resolve or
// synthesise the tools it needs, assemble and activate an agent, and
// optionally smoke-test it — emitting a ProgressEvent stream throughout.
// Grounded on the same generate/persist/activate primitives pkg/registry
// and pkg/codehost already expose; the teacher has no direct analogue
// (hector's agents are hand-authored, not generated), so the state machine
// itself is built from SPEC_FULL.md §4.5 using those primitives.
package metaagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uxmcp/uxmcp/pkg/codehost"
	"github.com/uxmcp/uxmcp/pkg/completion"
	"github.com/uxmcp/uxmcp/pkg/executor"
	"github.com/uxmcp/uxmcp/pkg/registry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// EventType names one of the progress events §4.5 enumerates.
type EventType string

const (
	EventAnalyzing         EventType = "analyzing"
	EventAnalysisComplete  EventType = "analysis_complete"
	EventIdentifyingTools  EventType = "identifying_tools"
	EventToolsIdentified   EventType = "tools_identified"
	EventCreatingTool      EventType = "creating_tool"
	EventToolCreated       EventType = "tool_created"
	EventToolFailed        EventType = "tool_failed"
	EventActivatingService EventType = "activating_service"
	EventCreatingAgent     EventType = "creating_agent"
	EventActivatingAgent   EventType = "activating_agent"
	EventTestingAgent      EventType = "testing_agent"
	EventTestComplete      EventType = "test_complete"
	EventError             EventType = "error"
	EventComplete          EventType = "complete"
)

// Event is one step of the pipeline's progress stream.
type Event struct {
	Type EventType
	Data map[string]any
}

// Requirement is the pipeline's input.
type Requirement struct {
	Name             string
	Description      string
	MaxToolsToCreate int
	MaxRetries       int
	SmokeTest        bool
}

// Options tunes a single run beyond the requirement itself.
type Options struct {
	LLMProfile string
}

type analysis struct {
	Purpose              string   `json:"purpose"`
	Domain               string   `json:"domain"`
	UseCases             []string `json:"use_cases"`
	RequiredCapabilities []string `json:"required_capabilities"`
	SuggestedProfile     string   `json:"suggested_profile"`
	Complexity           string   `json:"complexity"`
}

type toolSpec struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	ServiceType string                    `json:"service_type"`
	Parameters  []registry.Param          `json:"parameters"`
	Essential   bool                      `json:"essential"`
}

type matchDecision struct {
	Action      string `json:"action"` // "use" or "create"
	ServiceName string `json:"service_name"`
}

type generatedService struct {
	Source       string           `json:"source"`
	Dependencies []string         `json:"dependencies"`
	Params       []registry.Param `json:"params"`
	Route        string           `json:"route"`
	Method       string           `json:"method"`
	Description  string           `json:"description"`
}

type patchedSource struct {
	Source string `json:"source"`
}

type testParams struct {
	Params map[string]any `json:"params"`
}

type gradeResult struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason"`
}

// Pipeline wires the Completion Interface, Registry, and Code Host needed
// to drive the generate→activate→test→diagnose→repair state machine.
type Pipeline struct {
	completion *completion.Interface
	registry   *registry.Registry
	codehost   *codehost.Host
	executor   *executor.Executor
}

func New(comp *completion.Interface, reg *registry.Registry, host *codehost.Host, exec *executor.Executor) *Pipeline {
	return &Pipeline{completion: comp, registry: reg, codehost: host, executor: exec}
}

// Create drives the full pipeline, emitting progress events via emit, and
// returns the created agent's id on success.
func (p *Pipeline) Create(ctx context.Context, req Requirement, opts Options, emit func(Event)) (string, error) {
	if _, ok := p.registry.Agents.GetByName(req.Name); ok {
		err := uxerr.New(uxerr.NameConflict, fmt.Sprintf("agent %q already exists", req.Name))
		emit(Event{Type: EventError, Data: map[string]any{"error": err.Error()}})
		return "", err
	}

	maxTools := req.MaxToolsToCreate
	if maxTools <= 0 {
		maxTools = 5
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	emit(Event{Type: EventAnalyzing})
	an, err := p.analyze(ctx, req)
	if err != nil {
		emit(Event{Type: EventError, Data: map[string]any{"step": "analyze", "error": err.Error()}})
		return "", err
	}
	emit(Event{Type: EventAnalysisComplete, Data: map[string]any{"analysis": an}})

	emit(Event{Type: EventIdentifyingTools})
	tools, err := p.identifyTools(ctx, req, an)
	if err != nil {
		emit(Event{Type: EventError, Data: map[string]any{"step": "identify_tools", "error": err.Error()}})
		return "", err
	}
	emit(Event{Type: EventToolsIdentified, Data: map[string]any{"tools": tools}})

	var resolvedNames []string
	var failedNames []string

	created := 0
	for _, t := range tools {
		name, err := p.resolveTool(ctx, t)
		if err == nil {
			resolvedNames = append(resolvedNames, name)
			continue
		}
		if created >= maxTools {
			failedNames = append(failedNames, t.Name)
			emit(Event{Type: EventToolFailed, Data: map[string]any{"name": t.Name, "reason": "max_tools_to_create exceeded"}})
			continue
		}
		created++
		emit(Event{Type: EventCreatingTool, Data: map[string]any{"name": t.Name}})
		svcName, err := p.createTool(ctx, t, maxRetries, emit)
		if err != nil {
			failedNames = append(failedNames, t.Name)
			emit(Event{Type: EventToolFailed, Data: map[string]any{"name": t.Name, "error": err.Error()}})
			if t.Essential {
				err := uxerr.New(uxerr.DependencyMissing, fmt.Sprintf("essential tool %q could not be created: %v", t.Name, err))
				emit(Event{Type: EventError, Data: map[string]any{"error": err.Error()}})
				return "", err
			}
			continue
		}
		resolvedNames = append(resolvedNames, svcName)
		emit(Event{Type: EventToolCreated, Data: map[string]any{"name": t.Name, "service": svcName}})
	}

	emit(Event{Type: EventCreatingAgent})
	agent, err := p.assembleAgent(ctx, req, an, resolvedNames, opts)
	if err != nil {
		emit(Event{Type: EventError, Data: map[string]any{"step": "assemble_agent", "error": err.Error()}})
		return "", err
	}

	emit(Event{Type: EventActivatingAgent, Data: map[string]any{"agent_id": agent.ID}})
	if _, err := p.registry.ActivateAgent(ctx, agent.ID); err != nil {
		emit(Event{Type: EventError, Data: map[string]any{"step": "activate_agent", "error": err.Error()}})
		return "", err
	}

	if req.SmokeTest && p.executor != nil {
		emit(Event{Type: EventTestingAgent})
		result := p.smokeTest(ctx, agent, an)
		emit(Event{Type: EventTestComplete, Data: map[string]any{"success": result.Success, "output": result.Output}})
	}

	emit(Event{Type: EventComplete, Data: map[string]any{"agent_id": agent.ID, "failed_tools": failedNames}})
	return agent.ID, nil
}

func (p *Pipeline) complete(ctx context.Context, system, user string) (string, error) {
	res, err := p.completion.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: system},
			{Role: completion.RoleUser, Content: user},
		},
		Mode:        completion.ModeJSON,
		Temperature: 0.2,
		MaxTokens:   2048,
	})
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

func (p *Pipeline) analyze(ctx context.Context, req Requirement) (analysis, error) {
	text, err := p.complete(ctx,
		"You analyse a natural-language agent requirement and return structured JSON describing its purpose, domain, use cases, required capabilities, a suggested LLM profile name, and a complexity rating (low/medium/high). Respond with JSON only, matching: "+
			`{"purpose":"","domain":"","use_cases":[""],"required_capabilities":[""],"suggested_profile":"","complexity":""}`,
		req.Description)
	if err != nil {
		return analysis{}, err
	}
	var an analysis
	if err := json.Unmarshal([]byte(text), &an); err != nil {
		return analysis{}, uxerr.Wrap(uxerr.BadJson, err)
	}
	return an, nil
}

func (p *Pipeline) identifyTools(ctx context.Context, req Requirement, an analysis) ([]toolSpec, error) {
	text, err := p.complete(ctx,
		"Given an agent's purpose and required capabilities, return the minimal list of tools it needs. Respond with JSON only: "+
			`{"tools":[{"name":"","description":"","service_type":"tool","parameters":[{"name":"","type":"string","required":true,"description":""}],"essential":true}]}`,
		fmt.Sprintf("Purpose: %s\nCapabilities: %v\nRequirement: %s", an.Purpose, an.RequiredCapabilities, req.Description))
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Tools []toolSpec `json:"tools"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
		return nil, uxerr.Wrap(uxerr.BadJson, err)
	}
	return wrapper.Tools, nil
}

// resolveTool asks the model to match a required tool against the existing
// catalogue (§4.5 step 3); it returns the resolved service name, activating
// an inactive match if needed, or an error if nothing usable exists.
func (p *Pipeline) resolveTool(ctx context.Context, t toolSpec) (string, error) {
	catalogue := p.registry.ListServices()
	summaries := make([]map[string]any, 0, len(catalogue))
	for _, s := range catalogue {
		summaries = append(summaries, map[string]any{
			"name": s.Name, "description": s.Description, "params": s.Params, "active": s.Active,
		})
	}
	catalogueJSON, _ := json.Marshal(summaries)

	text, err := p.complete(ctx,
		`Given a required tool and a catalogue of existing services, decide whether an existing service satisfies it. Respond with JSON only: {"action":"use","service_name":""} or {"action":"create"}.`,
		fmt.Sprintf("Required tool: %+v\nCatalogue: %s", t, string(catalogueJSON)))
	if err != nil {
		return "", err
	}
	var decision matchDecision
	if err := json.Unmarshal([]byte(text), &decision); err != nil {
		return "", uxerr.Wrap(uxerr.BadJson, err)
	}
	if decision.Action != "use" || decision.ServiceName == "" {
		return "", uxerr.New(uxerr.DependencyMissing, "no matching existing service")
	}
	svc, ok := p.registry.Services.GetByName(decision.ServiceName)
	if !ok {
		return "", uxerr.New(uxerr.UnknownService, decision.ServiceName)
	}
	if !svc.Active {
		if _, err := p.registry.ActivateService(ctx, svc.ID); err != nil {
			return "", err
		}
	}
	return svc.Name, nil
}

// createTool runs the service-creation sub-loop (§4.5 step 4): generate,
// persist-as-draft, activate-with-diagnose-repair, test-with-diagnose-repair.
func (p *Pipeline) createTool(ctx context.Context, t toolSpec, maxRetries int, emit func(Event)) (string, error) {
	gen, err := p.generateService(ctx, t)
	if err != nil {
		return "", err
	}

	svc := &registry.Service{
		Name:         t.Name,
		Kind:         registry.KindTool,
		Method:       registry.Method(gen.Method),
		Route:        gen.Route,
		Params:       gen.Params,
		HandlerSrc:   gen.Source,
		Dependencies: gen.Dependencies,
		Description:  gen.Description,
	}
	if svc.Method == "" {
		svc.Method = registry.MethodPOST
	}
	if svc.Route == "" {
		svc.Route = "/tools/" + t.Name
	}

	created, err := p.registry.CreateService(ctx, svc)
	if err != nil {
		return "", err
	}

	emit(Event{Type: EventActivatingService, Data: map[string]any{"name": created.Name}})
	if err := p.activateWithRepair(ctx, created, maxRetries); err != nil {
		return "", err
	}

	if err := p.testWithRepair(ctx, created, t, maxRetries); err != nil {
		return "", err
	}

	return created.Name, nil
}

func (p *Pipeline) generateService(ctx context.Context, t toolSpec) (generatedService, error) {
	text, err := p.complete(ctx,
		`Generate a Lua tool handler. The source must define a global function handler(params) that returns a JSON-serializable value. Respond with JSON only: {"source":"","dependencies":[],"params":[{"name":"","type":"string","required":true,"description":""}],"route":"/tools/name","method":"POST","description":""}`,
		fmt.Sprintf("Tool: %s\nDescription: %s\nParameters: %+v", t.Name, t.Description, t.Parameters))
	if err != nil {
		return generatedService{}, err
	}
	var gen generatedService
	if err := json.Unmarshal([]byte(text), &gen); err != nil {
		return generatedService{}, uxerr.Wrap(uxerr.BadJson, err)
	}
	return gen, nil
}

func (p *Pipeline) activateWithRepair(ctx context.Context, svc *registry.Service, maxRetries int) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := p.registry.ActivateService(ctx, svc.ID)
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			return err
		}
		patched, derr := p.diagnose(ctx, svc.HandlerSrc, err.Error())
		if derr != nil {
			return err
		}
		svc.HandlerSrc = patched.Source
		if _, uerr := p.registry.UpdateService(ctx, svc); uerr != nil {
			return uerr
		}
	}
	return nil
}

func (p *Pipeline) diagnose(ctx context.Context, source, errMsg string) (patchedSource, error) {
	text, err := p.complete(ctx,
		`A generated tool handler failed. Given its source and the error, return a corrected version. Respond with JSON only: {"source":""}`,
		fmt.Sprintf("Source:\n%s\n\nError: %s", source, errMsg))
	if err != nil {
		return patchedSource{}, err
	}
	var patched patchedSource
	if err := json.Unmarshal([]byte(text), &patched); err != nil {
		return patchedSource{}, uxerr.Wrap(uxerr.BadJson, err)
	}
	return patched, nil
}

func (p *Pipeline) testWithRepair(ctx context.Context, svc *registry.Service, t toolSpec, maxRetries int) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		params, err := p.synthesizeTestParams(ctx, svc)
		if err != nil {
			return err
		}
		result, invokeErr := p.codehost.Invoke(ctx, codehost.Request{
			Source:       svc.HandlerSrc,
			Dependencies: svc.Dependencies,
			Params:       params.Params,
			Deadline:     10 * time.Second,
		})
		if invokeErr == nil {
			grade, gerr := p.gradeResult(ctx, t, params.Params, result)
			if gerr == nil && grade.Pass {
				return nil
			}
			if attempt == maxRetries {
				if gerr != nil {
					return gerr
				}
				return uxerr.New(uxerr.BadResult, grade.Reason)
			}
			reason := grade.Reason
			if gerr != nil {
				reason = gerr.Error()
			}
			if err := p.repairAfterTestFailure(ctx, svc, reason); err != nil {
				return err
			}
			continue
		}
		if attempt == maxRetries {
			return invokeErr
		}
		if err := p.repairAfterTestFailure(ctx, svc, invokeErr.Error()); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) repairAfterTestFailure(ctx context.Context, svc *registry.Service, reason string) error {
	patched, err := p.diagnose(ctx, svc.HandlerSrc, reason)
	if err != nil {
		return err
	}
	svc.HandlerSrc = patched.Source
	if _, err := p.registry.DeactivateService(ctx, svc.ID); err != nil {
		return err
	}
	if _, err := p.registry.UpdateService(ctx, svc); err != nil {
		return err
	}
	_, err = p.registry.ActivateService(ctx, svc.ID)
	return err
}

func (p *Pipeline) synthesizeTestParams(ctx context.Context, svc *registry.Service) (testParams, error) {
	text, err := p.complete(ctx,
		`Given a tool's parameter list, synthesize a plausible set of test values. Respond with JSON only: {"params":{}}`,
		fmt.Sprintf("Service: %s\nParams: %+v", svc.Name, svc.Params))
	if err != nil {
		return testParams{}, err
	}
	var tp testParams
	if err := json.Unmarshal([]byte(text), &tp); err != nil {
		return testParams{}, uxerr.Wrap(uxerr.BadJson, err)
	}
	return tp, nil
}

func (p *Pipeline) gradeResult(ctx context.Context, t toolSpec, params map[string]any, result any) (gradeResult, error) {
	resultJSON, _ := json.Marshal(result)
	text, err := p.complete(ctx,
		`Grade whether a tool's test invocation result is a plausible, non-error response for its stated purpose — a lenient match, not exact equality. Respond with JSON only: {"pass":true,"reason":""}`,
		fmt.Sprintf("Tool: %s\nDescription: %s\nTest params: %+v\nResult: %s", t.Name, t.Description, params, string(resultJSON)))
	if err != nil {
		return gradeResult{}, err
	}
	var g gradeResult
	if err := json.Unmarshal([]byte(text), &g); err != nil {
		return gradeResult{}, uxerr.Wrap(uxerr.BadJson, err)
	}
	return g, nil
}

func (p *Pipeline) assembleAgent(ctx context.Context, req Requirement, an analysis, toolNames []string, opts Options) (*registry.Agent, error) {
	profile := an.SuggestedProfile
	if opts.LLMProfile != "" {
		profile = opts.LLMProfile
	}
	agent := &registry.Agent{
		Name:         req.Name,
		LLMProfile:   profile,
		ToolNames:    toolNames,
		SystemPrompt: fmt.Sprintf("You are an agent whose purpose is: %s", an.Purpose),
		InputSchema:  registry.SchemaOrText{Text: true},
		OutputSchema: registry.SchemaOrText{Text: true},
		Policy:       registry.DefaultExecutionPolicy(),
		Identity: registry.IdentityBlock{
			Backstory:  an.Purpose,
			Objectives: an.UseCases,
		},
	}
	return p.registry.CreateAgent(ctx, agent)
}

func (p *Pipeline) smokeTest(ctx context.Context, agent *registry.Agent, an analysis) executor.Result {
	input := an.Purpose
	if len(an.UseCases) > 0 {
		input = an.UseCases[0]
	}
	return p.executor.Execute(ctx, agent, input, nil, executor.Options{})
}

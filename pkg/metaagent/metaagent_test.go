package metaagent

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxmcp/uxmcp/pkg/codehost"
	"github.com/uxmcp/uxmcp/pkg/completion"
	"github.com/uxmcp/uxmcp/pkg/registry"
)

// fakeProvider replays one completion.Result per call, in order, so the
// pipeline's sequence of analyze/identify/resolve/generate/test/grade calls
// can be scripted deterministically.
type fakeProvider struct {
	responses []string
	i         int
}

func (f *fakeProvider) Complete(ctx context.Context, req completion.Request) (completion.Result, error) {
	if f.i >= len(f.responses) {
		return completion.Result{}, fmt.Errorf("fakeProvider: no more responses (call %d)", f.i)
	}
	r := f.responses[f.i]
	f.i++
	return completion.Result{Message: r}, nil
}

type fakeHandlerFactory struct{}

func (fakeHandlerFactory) BuildHandler(svc *registry.Service) (http.Handler, error) {
	return http.NotFoundHandler(), nil
}

type fakePersister struct{}

func (fakePersister) SaveService(ctx context.Context, s *registry.Service) error { return nil }
func (fakePersister) DeleteService(ctx context.Context, id string) error        { return nil }
func (fakePersister) SaveAgent(ctx context.Context, a *registry.Agent) error     { return nil }
func (fakePersister) DeleteAgent(ctx context.Context, id string) error          { return nil }
func (fakePersister) SaveProfile(ctx context.Context, p *registry.LLMProfile) error { return nil }
func (fakePersister) DeleteProfile(ctx context.Context, id string) error        { return nil }

func newTestRegistry() *registry.Registry {
	return registry.New(fakeHandlerFactory{}, fakePersister{}, nil)
}

func noopEmit(Event) {}

func TestCreateRejectsNameConflict(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.CreateAgent(context.Background(), &registry.Agent{Name: "existing", Policy: registry.ExecutionPolicy{MaxIterations: 1}})
	require.NoError(t, err)

	p := New(completion.New(&fakeProvider{}), reg, codehost.New(codehost.Config{}), nil)
	_, err = p.Create(context.Background(), Requirement{Name: "existing", Description: "do things"}, Options{}, noopEmit)
	require.Error(t, err)
}

func TestCreateResolvesExistingToolAndAssemblesAgent(t *testing.T) {
	reg := newTestRegistry()
	existing := &registry.Service{
		Name: "lookup_weather", Kind: registry.KindTool, Route: "/weather", Method: registry.MethodGET,
		Description: "looks up the weather", Active: true, State: registry.StateActive,
	}
	_, err := reg.CreateService(context.Background(), existing)
	require.NoError(t, err)

	provider := &fakeProvider{responses: []string{
		`{"purpose":"answer weather questions","domain":"weather","use_cases":["what is the weather"],"required_capabilities":["lookup weather"],"suggested_profile":"default","complexity":"low"}`,
		`{"tools":[{"name":"weather_lookup","description":"looks up current weather","service_type":"tool","parameters":[],"essential":true}]}`,
		`{"action":"use","service_name":"lookup_weather"}`,
	}}

	var events []EventType
	emit := func(e Event) { events = append(events, e.Type) }

	p := New(completion.New(provider), reg, codehost.New(codehost.Config{}), nil)
	agentID, err := p.Create(context.Background(), Requirement{Name: "weather-bot", Description: "answers weather questions"}, Options{}, emit)
	require.NoError(t, err)
	assert.NotEmpty(t, agentID)

	agent, err := reg.GetAgent(agentID)
	require.NoError(t, err)
	assert.True(t, agent.Active)
	assert.Equal(t, []string{"lookup_weather"}, agent.ToolNames)
	assert.Contains(t, events, EventComplete)
	assert.NotContains(t, events, EventCreatingTool)
}

func TestCreateGeneratesAndTestsNewTool(t *testing.T) {
	reg := newTestRegistry()

	provider := &fakeProvider{responses: []string{
		`{"purpose":"double a number","domain":"math","use_cases":["double 5"],"required_capabilities":["doubling"],"suggested_profile":"default","complexity":"low"}`,
		`{"tools":[{"name":"doubler","description":"doubles a number","service_type":"tool","parameters":[{"name":"x","type":"number","required":true}],"essential":true}]}`,
		`{"action":"create"}`,
		`{"source":"function handler(params) return params.x * 2 end","dependencies":[],"params":[{"name":"x","type":"number","required":true}],"route":"/tools/doubler","method":"POST","description":"doubles a number"}`,
		`{"params":{"x":5}}`,
		`{"pass":true,"reason":"returned a plausible doubled value"}`,
	}}

	var events []EventType
	emit := func(e Event) { events = append(events, e.Type) }

	p := New(completion.New(provider), reg, codehost.New(codehost.Config{}), nil)
	agentID, err := p.Create(context.Background(), Requirement{Name: "doubler-bot", Description: "doubles numbers"}, Options{}, emit)
	require.NoError(t, err)

	agent, err := reg.GetAgent(agentID)
	require.NoError(t, err)
	require.Len(t, agent.ToolNames, 1)

	svc, ok := reg.Services.GetByName("doubler")
	require.True(t, ok)
	assert.True(t, svc.Active)
	assert.Contains(t, events, EventToolCreated)
	assert.Contains(t, events, EventComplete)
}

func TestCreateFailsWhenEssentialToolCannotBeCreated(t *testing.T) {
	reg := newTestRegistry()

	provider := &fakeProvider{responses: []string{
		`{"purpose":"broken","domain":"misc","use_cases":["x"],"required_capabilities":["x"],"suggested_profile":"default","complexity":"low"}`,
		`{"tools":[{"name":"broken_tool","description":"never works","service_type":"tool","parameters":[],"essential":true}]}`,
		`{"action":"create"}`,
		`not valid json`,
	}}

	var events []EventType
	emit := func(e Event) { events = append(events, e.Type) }

	p := New(completion.New(provider), reg, codehost.New(codehost.Config{}), nil)
	_, err := p.Create(context.Background(), Requirement{Name: "broken-bot", Description: "never works"}, Options{}, emit)
	require.Error(t, err)
	assert.Contains(t, events, EventToolFailed)
	assert.Contains(t, events, EventError)

	_, ok := reg.Agents.GetByName("broken-bot")
	assert.False(t, ok)
}

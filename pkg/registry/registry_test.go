package registry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// fakePersister is an in-memory stand-in for pkg/docstore, with a failure
// switch so rollback-on-persist-failure paths (§4.1) are reachable.
type fakePersister struct {
	mu     sync.Mutex
	fail   bool
	saved  map[string]bool
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: make(map[string]bool)}
}

func (p *fakePersister) SaveService(ctx context.Context, s *Service) error {
	return p.save(s.ID)
}
func (p *fakePersister) DeleteService(ctx context.Context, id string) error { return p.del(id) }
func (p *fakePersister) SaveAgent(ctx context.Context, a *Agent) error      { return p.save(a.ID) }
func (p *fakePersister) DeleteAgent(ctx context.Context, id string) error   { return p.del(id) }
func (p *fakePersister) SaveProfile(ctx context.Context, l *LLMProfile) error {
	return p.save(l.ID)
}
func (p *fakePersister) DeleteProfile(ctx context.Context, id string) error { return p.del(id) }

func (p *fakePersister) save(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("store unavailable")
	}
	p.saved[id] = true
	return nil
}

func (p *fakePersister) del(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("store unavailable")
	}
	delete(p.saved, id)
	return nil
}

type fakeHandlerFactory struct {
	fail bool
}

func (f *fakeHandlerFactory) BuildHandler(svc *Service) (http.Handler, error) {
	if f.fail {
		return nil, errors.New("compile failed")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), nil
}

func newTestRegistry() (*Registry, *fakePersister, *fakeHandlerFactory) {
	return newTestRegistryWithModules(nil)
}

func newTestRegistryWithModules(allowedModules []string) (*Registry, *fakePersister, *fakeHandlerFactory) {
	persist := newFakePersister()
	handlers := &fakeHandlerFactory{}
	return New(handlers, persist, allowedModules), persist, handlers
}

func validService(name string) *Service {
	return &Service{
		Name:   name,
		Kind:   KindTool,
		Route:  "/weather/{city}",
		Method: MethodGET,
		Params: []Param{{Name: "city", Type: ParamString, Required: true}},
	}
}

func TestCreateServiceAssignsIDAndDraftState(t *testing.T) {
	reg, persist, _ := newTestRegistry()
	svc, err := reg.CreateService(context.Background(), validService("weather"))
	require.NoError(t, err)
	assert.NotEmpty(t, svc.ID)
	assert.Equal(t, StateDraft, svc.State)
	assert.False(t, svc.Active)
	assert.True(t, persist.saved[svc.ID])
}

func TestCreateServiceRejectsInvalidRoute(t *testing.T) {
	reg, _, _ := newTestRegistry()
	s := validService("weather")
	s.Route = "weather"
	_, err := reg.CreateService(context.Background(), s)
	require.Error(t, err)
	e, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.ValidationFailed, e.Kind)
}

func TestCreateServiceRejectsUndeclaredPathParam(t *testing.T) {
	reg, _, _ := newTestRegistry()
	s := validService("weather")
	s.Params = nil
	_, err := reg.CreateService(context.Background(), s)
	require.Error(t, err)
}

func TestCreateServiceRollsBackOnPersistFailure(t *testing.T) {
	reg, persist, _ := newTestRegistry()
	persist.fail = true
	_, err := reg.CreateService(context.Background(), validService("weather"))
	require.Error(t, err)
	e, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.StoreUnavailable, e.Kind)

	_, ok = reg.Services.GetByName("weather")
	assert.False(t, ok, "a failed create must not leave the entity registered")
}

func TestActivateThenDeactivateService(t *testing.T) {
	reg, _, _ := newTestRegistry()
	svc, err := reg.CreateService(context.Background(), validService("weather"))
	require.NoError(t, err)

	active, err := reg.ActivateService(context.Background(), svc.ID)
	require.NoError(t, err)
	assert.True(t, active.Active)
	assert.Equal(t, StateActive, active.State)

	_, ok := reg.Routes.Lookup("GET", "/weather/{city}")
	require.True(t, ok)

	deactivated, err := reg.DeactivateService(context.Background(), svc.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)
	assert.Equal(t, StateValidated, deactivated.State)

	_, ok = reg.Routes.Lookup("GET", "/weather/{city}")
	assert.False(t, ok, "deactivation must unmount the route")
}

func TestActivateServiceRejectsRouteConflict(t *testing.T) {
	reg, _, _ := newTestRegistry()
	a, err := reg.CreateService(context.Background(), validService("weather-a"))
	require.NoError(t, err)
	a.Route = "/shared/{city}"
	a, err = reg.UpdateService(context.Background(), a)
	require.NoError(t, err)

	b, err := reg.CreateService(context.Background(), validService("weather-b"))
	require.NoError(t, err)
	b.Route = "/shared/{city}"
	b, err = reg.UpdateService(context.Background(), b)
	require.NoError(t, err)

	_, err = reg.ActivateService(context.Background(), a.ID)
	require.NoError(t, err)

	_, err = reg.ActivateService(context.Background(), b.ID)
	require.Error(t, err)
	e, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.RouteConflict, e.Kind)
}

func TestActivateServiceRollsBackOnHandlerBuildFailure(t *testing.T) {
	reg, _, handlers := newTestRegistry()
	svc, err := reg.CreateService(context.Background(), validService("weather"))
	require.NoError(t, err)

	handlers.fail = true
	_, err = reg.ActivateService(context.Background(), svc.ID)
	require.Error(t, err)

	got, err := reg.GetService(svc.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, StateDraft, got.State)
}

func TestActivateServiceRollsBackOnPersistFailureAfterMount(t *testing.T) {
	reg, persist, _ := newTestRegistry()
	svc, err := reg.CreateService(context.Background(), validService("weather"))
	require.NoError(t, err)

	persist.fail = true
	_, err = reg.ActivateService(context.Background(), svc.ID)
	require.Error(t, err)

	_, ok := reg.Routes.Lookup("GET", "/weather/{city}")
	assert.False(t, ok, "a rolled-back activation must not leave an orphaned route")
}

func TestActivateServiceRejectsUndeclaredDependency(t *testing.T) {
	reg, _, _ := newTestRegistryWithModules([]string{"http", "json"})
	s := validService("weather")
	s.Dependencies = []string{"http", "smtp"}
	svc, err := reg.CreateService(context.Background(), s)
	require.NoError(t, err)

	_, err = reg.ActivateService(context.Background(), svc.ID)
	require.Error(t, err)
	e, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.DependencyMissing, e.Kind)

	got, err := reg.GetService(svc.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestActivateServiceAllowsDeclaredDependency(t *testing.T) {
	reg, _, _ := newTestRegistryWithModules([]string{"http", "json"})
	s := validService("weather")
	s.Dependencies = []string{"http", "json"}
	svc, err := reg.CreateService(context.Background(), s)
	require.NoError(t, err)

	_, err = reg.ActivateService(context.Background(), svc.ID)
	require.NoError(t, err)
}

func TestCreateServiceRejectsMalformedOutputSchema(t *testing.T) {
	reg, _, _ := newTestRegistry()
	s := validService("weather")
	s.OutputSchema = map[string]any{"type": "not-a-real-json-schema-type"}
	_, err := reg.CreateService(context.Background(), s)
	require.Error(t, err)
	e, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.ValidationFailed, e.Kind)
}

func TestCreateServiceAcceptsWellFormedOutputSchema(t *testing.T) {
	reg, _, _ := newTestRegistry()
	s := validService("weather")
	s.OutputSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"temp": map[string]any{"type": "number"}},
	}
	_, err := reg.CreateService(context.Background(), s)
	require.NoError(t, err)
}

func TestDeleteServiceRequiresDeactivation(t *testing.T) {
	reg, _, _ := newTestRegistry()
	svc, err := reg.CreateService(context.Background(), validService("weather"))
	require.NoError(t, err)
	_, err = reg.ActivateService(context.Background(), svc.ID)
	require.NoError(t, err)

	err = reg.DeleteService(context.Background(), svc.ID)
	require.Error(t, err)
	e, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.ValidationFailed, e.Kind)

	_, err = reg.DeactivateService(context.Background(), svc.ID)
	require.NoError(t, err)
	require.NoError(t, reg.DeleteService(context.Background(), svc.ID))

	_, err = reg.GetService(svc.ID)
	assert.Error(t, err)
}

func TestUpdateServiceRejectsWhileActive(t *testing.T) {
	reg, _, _ := newTestRegistry()
	svc, err := reg.CreateService(context.Background(), validService("weather"))
	require.NoError(t, err)
	_, err = reg.ActivateService(context.Background(), svc.ID)
	require.NoError(t, err)

	svc.Description = "changed"
	_, err = reg.UpdateService(context.Background(), svc)
	require.Error(t, err)
}

func validAgent(name string) *Agent {
	return &Agent{Name: name, Policy: ExecutionPolicy{MaxIterations: 5}}
}

func TestCreateAgentDefaultsMaxIterations(t *testing.T) {
	reg, _, _ := newTestRegistry()
	a := validAgent("assistant")
	a.Policy.MaxIterations = 0
	created, err := reg.CreateAgent(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 5, created.Policy.MaxIterations)
}

func TestValidateAgentToolsReportsMissing(t *testing.T) {
	reg, _, _ := newTestRegistry()
	_, err := reg.CreateService(context.Background(), validService("known-tool"))
	require.NoError(t, err)

	a := validAgent("assistant")
	a.ToolNames = []string{"known-tool", "missing-tool"}
	missing := reg.ValidateAgentTools(a)
	assert.Equal(t, []string{"missing-tool"}, missing)
}

func TestActivateAgentRequiresResolvedTools(t *testing.T) {
	reg, _, _ := newTestRegistry()
	a := validAgent("assistant")
	a.ToolNames = []string{"missing-tool"}
	created, err := reg.CreateAgent(context.Background(), a)
	require.NoError(t, err)

	_, err = reg.ActivateAgent(context.Background(), created.ID)
	require.Error(t, err)
	e, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.ValidationFailed, e.Kind)
}

func TestActivateDeactivateAgent(t *testing.T) {
	reg, _, _ := newTestRegistry()
	created, err := reg.CreateAgent(context.Background(), validAgent("assistant"))
	require.NoError(t, err)

	active, err := reg.ActivateAgent(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, active.Active)

	deactivated, err := reg.DeactivateAgent(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)
}

func TestDeleteAgentRequiresDeactivation(t *testing.T) {
	reg, _, _ := newTestRegistry()
	created, err := reg.CreateAgent(context.Background(), validAgent("assistant"))
	require.NoError(t, err)
	_, err = reg.ActivateAgent(context.Background(), created.ID)
	require.NoError(t, err)

	err = reg.DeleteAgent(context.Background(), created.ID)
	require.Error(t, err)

	_, err = reg.DeactivateAgent(context.Background(), created.ID)
	require.NoError(t, err)
	require.NoError(t, reg.DeleteAgent(context.Background(), created.ID))
}

func validProfile(name string) *LLMProfile {
	return &LLMProfile{Name: name, Model: "gpt-4o", Mode: ModeJSON}
}

func TestProfileCRUD(t *testing.T) {
	reg, _, _ := newTestRegistry()
	created, err := reg.CreateProfile(context.Background(), validProfile("default"))
	require.NoError(t, err)

	got, err := reg.GetProfile(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.Model)

	got.Model = "gpt-4o-mini"
	updated, err := reg.UpdateProfile(context.Background(), got)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", updated.Model)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	require.NoError(t, reg.DeleteProfile(context.Background(), created.ID))
	_, err = reg.GetProfile(created.ID)
	assert.Error(t, err)
}

func TestCreateProfileRejectsBadMode(t *testing.T) {
	reg, _, _ := newTestRegistry()
	p := validProfile("default")
	p.Mode = "xml"
	_, err := reg.CreateProfile(context.Background(), p)
	require.Error(t, err)
}

func TestCreateThenDeleteIsNoOp(t *testing.T) {
	reg, persist, _ := newTestRegistry()
	svc, err := reg.CreateService(context.Background(), validService("weather"))
	require.NoError(t, err)
	require.NoError(t, reg.DeleteService(context.Background(), svc.ID))

	assert.Equal(t, 0, reg.Services.Count())
	assert.False(t, persist.saved[svc.ID])
}

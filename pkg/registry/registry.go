package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/uxmcp/uxmcp/pkg/routetable"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// HandlerFactory builds the net/http handler a service's route dispatches
// to. Implemented by pkg/httpapi, wiring the Code Host and Log Sink — kept
// as an interface here so the Registry doesn't import the HTTP package.
type HandlerFactory interface {
	BuildHandler(svc *Service) (http.Handler, error)
}

// Persister is the durable mirror the Registry writes through to on every
// mutation (pkg/docstore). Registry never serves reads from it; it is the
// document-store write path only, matching §5's "document store: accessed
// only via its own async client" and "the Registry does not fall back to
// stale in-memory state for writes" (§7).
type Persister interface {
	SaveService(ctx context.Context, s *Service) error
	DeleteService(ctx context.Context, id string) error
	SaveAgent(ctx context.Context, a *Agent) error
	DeleteAgent(ctx context.Context, id string) error
	SaveProfile(ctx context.Context, p *LLMProfile) error
	DeleteProfile(ctx context.Context, id string) error
}

// Registry is the authoritative in-memory catalogue plus the route table.
// All activation-state transitions serialise under a single lock per
// §4.1 ("Transitions are serialised per entity under a single registry
// lock"); list/get operations only touch each Store's own read-write lock.
type Registry struct {
	Services *Store[*Service]
	Agents   *Store[*Agent]
	Profiles *Store[*LLMProfile]
	Routes   *routetable.Table

	transitionMu   sync.Mutex
	handlers       HandlerFactory
	persist        Persister
	allowedModules map[string]bool
}

// New wires the Registry to the Code Host's module allow-list so
// ActivateService can reject a service whose declared Dependencies include a
// module the process isn't configured to run, instead of discovering the gap
// only at invocation time (pkg/codehost's own, separate UndeclaredDependency
// check).
func New(handlers HandlerFactory, persist Persister, allowedModules []string) *Registry {
	allowed := make(map[string]bool, len(allowedModules))
	for _, m := range allowedModules {
		allowed[m] = true
	}
	return &Registry{
		Services:       NewStore[*Service](),
		Agents:         NewStore[*Agent](),
		Profiles:       NewStore[*LLMProfile](),
		Routes:         routetable.New(),
		handlers:       handlers,
		persist:        persist,
		allowedModules: allowed,
	}
}

func newID() string { return ulid.Make().String() }

// --- Services ---

// CreateService structurally validates and persists a new draft service.
func (r *Registry) CreateService(ctx context.Context, s *Service) (*Service, error) {
	if s.ID == "" {
		s.ID = newID()
	}
	s.State = StateDraft
	s.Active = false
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	if violations := s.Validate(); len(violations) > 0 {
		return nil, validationError(violations)
	}

	if err := r.Services.Put(s); err != nil {
		return nil, uxerr.Wrap(uxerr.NameConflict, err)
	}
	if err := r.persist.SaveService(ctx, s); err != nil {
		r.Services.Delete(s.ID)
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return s, nil
}

func (r *Registry) GetService(id string) (*Service, error) {
	s, ok := r.Services.Get(id)
	if !ok {
		return nil, uxerr.New(uxerr.UnknownService, id)
	}
	return s, nil
}

func (r *Registry) ListServices() []*Service { return r.Services.List() }

// UpdateService replaces a draft or validated service's definition. Active
// services must be deactivated first (mutating a live route's definition
// in place would violate the "deactivation must precede deletion"-style
// invariant for in-place edits too).
func (r *Registry) UpdateService(ctx context.Context, s *Service) (*Service, error) {
	existing, err := r.GetService(s.ID)
	if err != nil {
		return nil, err
	}
	if existing.Active {
		return nil, uxerr.New(uxerr.ValidationFailed, "service is active; deactivate before updating")
	}
	if violations := s.Validate(); len(violations) > 0 {
		return nil, validationError(violations)
	}
	s.State = existing.State
	s.Active = false
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UTC()

	if err := r.Services.Put(s); err != nil {
		return nil, uxerr.Wrap(uxerr.NameConflict, err)
	}
	if err := r.persist.SaveService(ctx, s); err != nil {
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return s, nil
}

// DeleteService removes a service. Only inactive entries may be deleted.
func (r *Registry) DeleteService(ctx context.Context, id string) error {
	s, err := r.GetService(id)
	if err != nil {
		return err
	}
	if s.Active {
		return uxerr.New(uxerr.ValidationFailed, "service is active; deactivate before deleting")
	}
	if err := r.persist.DeleteService(ctx, id); err != nil {
		return uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return r.Services.Delete(id)
}

// ActivateService runs validate → compile handler → reserve route → active,
// rolling back any partial state on failure (§4.1 "Failure semantics").
func (r *Registry) ActivateService(ctx context.Context, id string) (*Service, error) {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	s, err := r.GetService(id)
	if err != nil {
		return nil, err
	}
	if s.Active {
		return s, nil
	}

	if violations := s.Validate(); len(violations) > 0 {
		return nil, validationError(violations)
	}

	if r.Routes.Conflicts(string(s.Method), s.Route, s.ID) {
		return nil, uxerr.New(uxerr.RouteConflict, fmt.Sprintf("%s %s already active", s.Method, s.Route))
	}

	for _, dep := range s.Dependencies {
		if !r.allowedModules[dep] {
			return nil, uxerr.New(uxerr.DependencyMissing, dep)
		}
	}

	handler, err := r.handlers.BuildHandler(s)
	if err != nil {
		return nil, uxerr.Wrap(uxerr.DependencyMissing, err)
	}

	s.State = StateValidated

	r.Routes.Mount(&routetable.Entry{
		Method:    string(s.Method),
		Pattern:   s.Route,
		ServiceID: s.ID,
		Handler:   handler,
	})

	s.State = StateActive
	s.Active = true
	s.UpdatedAt = time.Now().UTC()

	if err := r.persist.SaveService(ctx, s); err != nil {
		// roll back: unmount, revert state — no orphaned routes.
		r.Routes.Unmount(string(s.Method), s.Route)
		s.State = StateValidated
		s.Active = false
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}

	r.Services.Put(s)
	return s, nil
}

// DeactivateService unmounts the route atomically; in-flight requests that
// already reached the handler complete normally (Unmount only affects new
// Lookups), and returns the service to validated.
func (r *Registry) DeactivateService(ctx context.Context, id string) (*Service, error) {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	s, err := r.GetService(id)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return s, nil
	}

	r.Routes.Unmount(string(s.Method), s.Route)
	s.State = StateValidated
	s.Active = false
	s.UpdatedAt = time.Now().UTC()

	if err := r.persist.SaveService(ctx, s); err != nil {
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	r.Services.Put(s)
	return s, nil
}

// --- Agents ---

func (r *Registry) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	a.State = StateDraft
	a.Active = false
	if a.Policy.MaxIterations == 0 {
		a.Policy.MaxIterations = 5
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	if violations := a.Validate(); len(violations) > 0 {
		return nil, validationError(violations)
	}
	if err := r.Agents.Put(a); err != nil {
		return nil, uxerr.Wrap(uxerr.NameConflict, err)
	}
	if err := r.persist.SaveAgent(ctx, a); err != nil {
		r.Agents.Delete(a.ID)
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return a, nil
}

func (r *Registry) GetAgent(id string) (*Agent, error) {
	a, ok := r.Agents.Get(id)
	if !ok {
		return nil, uxerr.New(uxerr.UnknownAgent, id)
	}
	return a, nil
}

func (r *Registry) ListAgents() []*Agent { return r.Agents.List() }

func (r *Registry) UpdateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	existing, err := r.GetAgent(a.ID)
	if err != nil {
		return nil, err
	}
	if violations := a.Validate(); len(violations) > 0 {
		return nil, validationError(violations)
	}
	a.State = existing.State
	a.Active = existing.Active
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	if err := r.Agents.Put(a); err != nil {
		return nil, uxerr.Wrap(uxerr.NameConflict, err)
	}
	if err := r.persist.SaveAgent(ctx, a); err != nil {
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return a, nil
}

func (r *Registry) DeleteAgent(ctx context.Context, id string) error {
	a, err := r.GetAgent(id)
	if err != nil {
		return err
	}
	if a.Active {
		return uxerr.New(uxerr.ValidationFailed, "agent is active; deactivate before deleting")
	}
	if err := r.persist.DeleteAgent(ctx, id); err != nil {
		return uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return r.Agents.Delete(id)
}

// ValidateAgentTools reports every tool name on the agent that does not
// resolve to any service in the registry, active or not (Invariant 3).
func (r *Registry) ValidateAgentTools(a *Agent) []string {
	var missing []string
	for _, name := range a.ToolNames {
		if _, ok := r.Services.GetByName(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// ActivateAgent checks every referenced tool resolves, then flips active.
func (r *Registry) ActivateAgent(ctx context.Context, id string) (*Agent, error) {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	a, err := r.GetAgent(id)
	if err != nil {
		return nil, err
	}
	if a.Active {
		return a, nil
	}
	if missing := r.ValidateAgentTools(a); len(missing) > 0 {
		return nil, uxerr.FieldError(uxerr.ValidationFailed, "tool_names", fmt.Sprintf("unresolved tool names: %v", missing))
	}

	a.State = StateActive
	a.Active = true
	a.UpdatedAt = time.Now().UTC()
	if err := r.persist.SaveAgent(ctx, a); err != nil {
		a.State = StateValidated
		a.Active = false
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	r.Agents.Put(a)
	return a, nil
}

func (r *Registry) DeactivateAgent(ctx context.Context, id string) (*Agent, error) {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	a, err := r.GetAgent(id)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return a, nil
	}
	a.State = StateValidated
	a.Active = false
	a.UpdatedAt = time.Now().UTC()
	if err := r.persist.SaveAgent(ctx, a); err != nil {
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	r.Agents.Put(a)
	return a, nil
}

// --- LLM Profiles ---

func (r *Registry) CreateProfile(ctx context.Context, p *LLMProfile) (*LLMProfile, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if violations := p.Validate(); len(violations) > 0 {
		return nil, validationError(violations)
	}
	if err := r.Profiles.Put(p); err != nil {
		return nil, uxerr.Wrap(uxerr.NameConflict, err)
	}
	if err := r.persist.SaveProfile(ctx, p); err != nil {
		r.Profiles.Delete(p.ID)
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return p, nil
}

func (r *Registry) GetProfile(id string) (*LLMProfile, error) {
	p, ok := r.Profiles.Get(id)
	if !ok {
		return nil, uxerr.New(uxerr.UnknownProfile, id)
	}
	return p, nil
}

func (r *Registry) ListProfiles() []*LLMProfile { return r.Profiles.List() }

func (r *Registry) UpdateProfile(ctx context.Context, p *LLMProfile) (*LLMProfile, error) {
	existing, err := r.GetProfile(p.ID)
	if err != nil {
		return nil, err
	}
	if violations := p.Validate(); len(violations) > 0 {
		return nil, validationError(violations)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	if err := r.Profiles.Put(p); err != nil {
		return nil, uxerr.Wrap(uxerr.NameConflict, err)
	}
	if err := r.persist.SaveProfile(ctx, p); err != nil {
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return p, nil
}

func (r *Registry) DeleteProfile(ctx context.Context, id string) error {
	if _, err := r.GetProfile(id); err != nil {
		return err
	}
	if err := r.persist.DeleteProfile(ctx, id); err != nil {
		return uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return r.Profiles.Delete(id)
}

func validationError(violations []FieldViolation) error {
	if len(violations) == 0 {
		return nil
	}
	return uxerr.FieldError(uxerr.ValidationFailed, violations[0].Field, joinViolations(violations))
}

func joinViolations(vs []FieldViolation) string {
	s := ""
	for i, v := range vs {
		if i > 0 {
			s += "; "
		}
		s += v.Field + ": " + v.Detail
	}
	return s
}

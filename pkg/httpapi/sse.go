package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uxmcp/uxmcp/pkg/broadcaster"
	"github.com/uxmcp/uxmcp/pkg/executor"
	"github.com/uxmcp/uxmcp/pkg/metaagent"
	"github.com/uxmcp/uxmcp/pkg/registry"
)

// mountMetaAgent wires the two SSE-streamed creation endpoints (§4.5,
// §6): /meta-agent/create runs the full analyse→tool→agent pipeline,
// /agent/create-service runs just its tool-synthesis sub-loop (step 4)
// against an existing agent's requirement. Both drive a metaagent.Pipeline
// built fresh per request against the resolved LLM profile, the same
// per-request-construction pattern services.go and agents.go use.
func mountMetaAgent(r chi.Router, d Deps) {
	r.Post("/meta-agent/create", createAgentSSE(d))
	r.Post("/agent/create-service", createServiceSSE(d))
}

type metaAgentCreateBody struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	LLMProfile       string `json:"llm_profile"`
	MaxToolsToCreate int    `json:"max_tools_to_create"`
	MaxRetries       int    `json:"max_retries"`
	SmokeTest        bool   `json:"smoke_test"`
}

func createAgentSSE(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body metaAgentCreateBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		comp, _, err := resolveProfile(d.Registry, body.LLMProfile)
		if err != nil {
			writeError(w, err)
			return
		}

		req := metaagent.Requirement{
			Name:             body.Name,
			Description:      body.Description,
			MaxToolsToCreate: body.MaxToolsToCreate,
			MaxRetries:       body.MaxRetries,
			SmokeTest:        body.SmokeTest,
		}
		opts := metaagent.Options{LLMProfile: body.LLMProfile}

		exec := executor.New(comp, newToolInvoker(d.CodeHost, d.Metrics), d.Memory, d.Logs,
			func(name string) (*registry.Service, bool) { return d.Registry.Services.GetByName(name) })
		pipeline := metaagent.New(comp, d.Registry, d.CodeHost, exec)

		runSSE(w, r, d, func(ctx context.Context, executionID string, session *broadcaster.Session) {
			_, err := pipeline.Create(ctx, req, opts, forwardEvent(ctx, session))
			closeWith(ctx, session, err)
		})
	}
}

type createServiceBody struct {
	Description string `json:"description"`
	LLMProfile  string `json:"llm_profile"`
	MaxRetries  int    `json:"max_retries"`
}

// createServiceSSE streams progress for synthesising a single tool service
// (the meta-agent's step 4 sub-loop), reusing the same
// identify→resolve-or-create→activate→test→repair machinery by wrapping
// the description in a single-tool Requirement with SmokeTest disabled.
func createServiceSSE(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createServiceBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		comp, _, err := resolveProfile(d.Registry, body.LLMProfile)
		if err != nil {
			writeError(w, err)
			return
		}

		req := metaagent.Requirement{
			Name:             "service-" + uuid.NewString()[:8],
			Description:      body.Description,
			MaxToolsToCreate: 1,
			MaxRetries:       body.MaxRetries,
			SmokeTest:        false,
		}
		opts := metaagent.Options{LLMProfile: body.LLMProfile}

		exec := executor.New(comp, newToolInvoker(d.CodeHost, d.Metrics), d.Memory, d.Logs,
			func(name string) (*registry.Service, bool) { return d.Registry.Services.GetByName(name) })
		pipeline := metaagent.New(comp, d.Registry, d.CodeHost, exec)

		runSSE(w, r, d, func(ctx context.Context, executionID string, session *broadcaster.Session) {
			_, err := pipeline.Create(ctx, req, opts, forwardEvent(ctx, session))
			closeWith(ctx, session, err)
		})
	}
}

// forwardEvent adapts a metaagent.Event into a broadcaster.Event, run on
// the pipeline's own goroutine; Session.Send applies back-pressure so a
// slow client throttles the pipeline rather than events being dropped.
func forwardEvent(ctx context.Context, session *broadcaster.Session) func(metaagent.Event) {
	return func(e metaagent.Event) {
		session.Send(ctx, broadcaster.Event{
			Step:    string(e.Type),
			Message: messageFor(e),
			Details: e.Data,
		})
	}
}

func messageFor(e metaagent.Event) string {
	if msg, ok := e.Data["message"].(string); ok {
		return msg
	}
	return string(e.Type)
}

func closeWith(ctx context.Context, session *broadcaster.Session, err error) {
	if err != nil {
		session.Send(ctx, broadcaster.Event{Step: "error", Message: err.Error()})
	} else {
		session.Send(ctx, broadcaster.Event{Step: "complete", Message: "done"})
	}
	session.Close()
}

// runSSE opens a broadcaster session, launches run in its own goroutine,
// and drains Events() onto the response as `text/event-stream` frames
// until the session closes or the client disconnects.
func runSSE(w http.ResponseWriter, r *http.Request, d Deps, run func(ctx context.Context, executionID string, session *broadcaster.Session)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}
	executionID := uuid.NewString()
	session := d.Broadcaster.Open(executionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	go run(ctx, executionID, session)

	for {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", executionID, payload)
			flusher.Flush()
		case <-ctx.Done():
			d.Broadcaster.Close(executionID)
			return
		}
	}
}

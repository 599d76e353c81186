package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uxmcp/uxmcp/pkg/completion"
	"github.com/uxmcp/uxmcp/pkg/executor"
	"github.com/uxmcp/uxmcp/pkg/memory"
	"github.com/uxmcp/uxmcp/pkg/registry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// executorMessageDTO is the wire shape for a history turn on /execute;
// ToolCalls are accepted as already-normalised (id, name, arguments)
// triples since the client is replaying a prior Result, not raw
// provider output.
type executorMessageDTO struct {
	Role       completion.Role    `json:"role"`
	Content    string             `json:"content"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Name       string             `json:"name,omitempty"`
	ToolCalls  []completion.ToolCall `json:"tool_calls,omitempty"`
}

func toExecutorMessages(dtos []executorMessageDTO) []completion.Message {
	if dtos == nil {
		return nil
	}
	out := make([]completion.Message, len(dtos))
	for i, m := range dtos {
		out[i] = completion.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
			ToolCalls:  m.ToolCalls,
		}
	}
	return out
}

func mountAgents(r chi.Router, d Deps) {
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", listAgents(d))
		r.Post("/", createAgent(d))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getAgent(d))
			r.Put("/", updateAgent(d))
			r.Delete("/", deleteAgent(d))
			r.Post("/activate", activateAgent(d))
			r.Post("/deactivate", deactivateAgent(d))
			r.Post("/validate", validateAgent(d))
			r.Post("/execute", executeAgent(d))

			r.Route("/memory", func(r chi.Router) {
				r.Get("/", listMemory(d))
				r.Post("/", storeMemory(d))
				r.Get("/search", searchMemory(d))
				r.Get("/stats", memoryStats(d))
				r.Delete("/{memoryID}", deleteMemory(d))
			})
		})
	})
}

func listAgents(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Registry.ListAgents())
	}
}

func getAgent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := d.Registry.GetAgent(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func createAgent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a registry.Agent
		if err := decodeJSON(r, &a); err != nil {
			writeError(w, err)
			return
		}
		created, err := d.Registry.CreateAgent(r.Context(), &a)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func updateAgent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a registry.Agent
		if err := decodeJSON(r, &a); err != nil {
			writeError(w, err)
			return
		}
		a.ID = chi.URLParam(r, "id")
		updated, err := d.Registry.UpdateAgent(r.Context(), &a)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteAgent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Registry.DeleteAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func activateAgent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := d.Registry.ActivateAgent(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func deactivateAgent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := d.Registry.DeactivateAgent(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// validateAgent reports unresolved tool names (Invariant 3) without
// mutating state — distinct from activate, which enforces the same check
// but also commits the transition.
func validateAgent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := d.Registry.GetAgent(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		unresolved := d.Registry.ValidateAgentTools(a)
		writeJSON(w, http.StatusOK, map[string]any{"unresolved_tools": unresolved, "valid": len(unresolved) == 0})
	}
}

func executeAgent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := d.Registry.GetAgent(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		var body struct {
			Input   any                  `json:"input"`
			History []executorMessageDTO `json:"history"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}

		comp, _, err := resolveProfile(d.Registry, a.LLMProfile)
		if err != nil {
			writeError(w, err)
			return
		}
		exec := executor.New(comp, newToolInvoker(d.CodeHost, d.Metrics), d.Memory, d.Logs,
			func(name string) (*registry.Service, bool) { return d.Registry.Services.GetByName(name) })

		start := time.Now()
		result := exec.Execute(r.Context(), a, body.Input, toExecutorMessages(body.History), executor.Options{})
		errKind := ""
		if !result.Success {
			errKind = errKindOf(result.Error)
		}
		d.Metrics.RecordExecution(a.Name, time.Since(start), errKind)
		writeJSON(w, http.StatusOK, result)
	}
}

func listMemory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50)
		records, err := d.Memory.List(r.Context(), chi.URLParam(r, "id"), memory.Filters{}, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func storeMemory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content     string             `json:"content"`
			ContentType memory.ContentType `json:"content_type"`
			Importance  float64            `json:"importance"`
			Metadata    map[string]any     `json:"metadata"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		if body.ContentType == "" {
			body.ContentType = memory.ContentStoredKnowledge
		}
		importance := body.Importance
		if importance == 0 {
			importance = memory.ImportanceExplicitStore
		}
		rec, err := d.Memory.Store(r.Context(), chi.URLParam(r, "id"), body.Content, body.ContentType, importance, body.Metadata)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func searchMemory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			writeError(w, uxerr.FieldError(uxerr.ValidationFailed, "q", "query parameter is required"))
			return
		}
		k := parseIntParam(r, "k", 10)
		scored, err := d.Memory.Search(r.Context(), chi.URLParam(r, "id"), q, k, memory.Filters{})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, scored)
	}
}

func memoryStats(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := d.Memory.Stats(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func deleteMemory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Memory.Delete(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "memoryID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

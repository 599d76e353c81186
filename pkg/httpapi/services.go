package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uxmcp/uxmcp/pkg/registry"
)

func mountServices(r chi.Router, d Deps) {
	r.Route("/services", func(r chi.Router) {
		r.Get("/", listServices(d))
		r.Post("/", createService(d))
		r.Post("/generate", generateService(d))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getService(d))
			r.Put("/", updateService(d))
			r.Delete("/", deleteService(d))
			r.Post("/activate", activateService(d))
			r.Post("/deactivate", deactivateService(d))
			r.Post("/test", testService(d))
		})
	})
}

func listServices(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Registry.ListServices())
	}
}

func getService(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.GetService(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

func createService(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var svc registry.Service
		if err := decodeJSON(r, &svc); err != nil {
			writeError(w, err)
			return
		}
		created, err := d.Registry.CreateService(r.Context(), &svc)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func updateService(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var svc registry.Service
		if err := decodeJSON(r, &svc); err != nil {
			writeError(w, err)
			return
		}
		svc.ID = chi.URLParam(r, "id")
		updated, err := d.Registry.UpdateService(r.Context(), &svc)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteService(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Registry.DeleteService(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func activateService(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.ActivateService(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

func deactivateService(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.DeactivateService(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

// testService runs the handler once with LLM-generated inputs synthesised
// from the service's param declarations, per §6's "test runs the handler
// with LLM-generated inputs" — it reuses the LLM profile named in the
// request body (defaulting to the first active profile) purely to
// synthesise plausible arguments, then invokes the Code Host directly.
func testService(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.GetService(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		var body struct {
			LLMProfile string         `json:"llm_profile"`
			Params     map[string]any `json:"params"`
		}
		_ = decodeJSON(r, &body)

		params := body.Params
		if params == nil {
			profileName := body.LLMProfile
			if profileName == "" {
				profileName = firstActiveProfileName(d)
			}
			if profileName != "" {
				params = synthesizeParams(r.Context(), d, profileName, svc)
			}
			if params == nil {
				params = map[string]any{}
			}
		}

		result, err := d.CodeHost.Invoke(r.Context(), codehostTestRequest(svc, params))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"params": params, "result": result})
	}
}

func firstActiveProfileName(d Deps) string {
	for _, p := range d.Registry.ListProfiles() {
		if p.Active {
			return p.Name
		}
	}
	return ""
}

func generateService(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			LLMProfile  string `json:"llm_profile"`
			Description string `json:"description"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		comp, _, err := resolveProfile(d.Registry, body.LLMProfile)
		if err != nil {
			writeError(w, err)
			return
		}
		svc, err := synthesizeService(r.Context(), comp, body.Description)
		if err != nil {
			writeError(w, err)
			return
		}
		created, err := d.Registry.CreateService(r.Context(), svc)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

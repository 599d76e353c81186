package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uxmcp/uxmcp/pkg/registry"
)

// mountLLMs wires plain CRUD for LLM profiles. Unlike services/agents,
// profiles have no activate/deactivate lifecycle endpoints — Active is
// just a field flipped via PUT, since a profile has no running state to
// tear down.
func mountLLMs(r chi.Router, d Deps) {
	r.Route("/llms", func(r chi.Router) {
		r.Get("/", listProfiles(d))
		r.Post("/", createProfile(d))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getProfile(d))
			r.Put("/", updateProfile(d))
			r.Delete("/", deleteProfile(d))
		})
	})
}

func listProfiles(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Registry.ListProfiles())
	}
}

func getProfile(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := d.Registry.GetProfile(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func createProfile(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p registry.LLMProfile
		if err := decodeJSON(r, &p); err != nil {
			writeError(w, err)
			return
		}
		created, err := d.Registry.CreateProfile(r.Context(), &p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func updateProfile(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p registry.LLMProfile
		if err := decodeJSON(r, &p); err != nil {
			writeError(w, err)
			return
		}
		p.ID = chi.URLParam(r, "id")
		updated, err := d.Registry.UpdateProfile(r.Context(), &p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteProfile(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Registry.DeleteProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// errorBody is the machine-readable shape §7 promises on every synchronous
// failure: {error_kind, field?, detail}.
type errorBody struct {
	ErrorKind string `json:"error_kind"`
	Field     string `json:"field,omitempty"`
	Detail    string `json:"detail"`
}

// writeError maps err to its uxerr.Kind and status code and writes the
// JSON body; an err that doesn't carry a Kind is treated as Bug (500) per
// uxerr.KindOf's own contract — an unrecognised error reaching this
// boundary is itself an invariant violation, never a client-message leak.
func writeError(w http.ResponseWriter, err error) {
	kind := uxerr.KindOf(err)
	body := errorBody{ErrorKind: string(kind), Detail: err.Error()}
	if e, ok := uxerr.As(err); ok {
		body.Field = e.Field
		body.Detail = e.Detail
	}
	writeJSON(w, uxerr.HTTPStatus(kind), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errKindOf returns the uxerr.Kind string for a metrics label, or "" for a
// nil error so success calls don't carry a spurious error_kind label.
func errKindOf(err error) string {
	if err == nil {
		return ""
	}
	return string(uxerr.KindOf(err))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return uxerr.Wrap(uxerr.ValidationFailed, err)
	}
	return nil
}

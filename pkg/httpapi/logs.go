package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uxmcp/uxmcp/pkg/logsink"
)

// mountLogs wires the Log Sink's query and retention-delete operations
// (§6). GET accepts the same filter fields as logsink.Filter via query
// string; DELETE prunes entries for one service older than max_age_days.
func mountLogs(r chi.Router, d Deps) {
	r.Get("/logs", queryLogs(d))
	r.Delete("/logs", deleteLogs(d))
}

func queryLogs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := logsink.Filter{
			Level:       logsink.Level(q.Get("level")),
			Module:      q.Get("module"),
			Text:        q.Get("text"),
			ExecutionID: q.Get("execution_id"),
			Offset:      parseIntParam(r, "offset", 0),
			Limit:       parseIntParam(r, "limit", 100),
		}
		if since := q.Get("since"); since != "" {
			if t, err := time.Parse(time.RFC3339, since); err == nil {
				filter.Since = t
			}
		}
		if until := q.Get("until"); until != "" {
			if t, err := time.Parse(time.RFC3339, until); err == nil {
				filter.Until = t
			}
		}
		entries, err := d.Logs.Query(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func deleteLogs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID := r.URL.Query().Get("service_id")
		maxAgeDays, err := strconv.Atoi(r.URL.Query().Get("max_age_days"))
		if err != nil {
			maxAgeDays = 0
		}
		if err := d.Logs.DeleteByService(r.Context(), serviceID, maxAgeDays); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Package httpapi wires every §6 external interface onto a chi router:
// CRUD/lifecycle for services, agents, and LLM profiles, synchronous and
// SSE service/agent creation, dynamic dispatch of active service routes,
// the MCP protocol surface, log queries, and the ambient health/metrics
// endpoints. Grounded on the teacher's pkg/transport (chi.Router,
// RouteContext-based metrics middleware) and pkg/server.go's lifecycle
// shape, generalised away from hector's gRPC-gateway transcoding since
// SPEC_FULL.md's surface is plain chi-routed JSON/SSE.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/uxmcp/uxmcp/pkg/broadcaster"
	"github.com/uxmcp/uxmcp/pkg/codehost"
	"github.com/uxmcp/uxmcp/pkg/docstore"
	"github.com/uxmcp/uxmcp/pkg/logsink"
	"github.com/uxmcp/uxmcp/pkg/mcpsurface"
	"github.com/uxmcp/uxmcp/pkg/memory"
	"github.com/uxmcp/uxmcp/pkg/metrics"
	"github.com/uxmcp/uxmcp/pkg/registry"
)

// Deps are every already-constructed component httpapi wires onto routes;
// the composition root (cmd/uxmcpd) builds each of these, httpapi never
// constructs its own registry/memory/codehost instance.
type Deps struct {
	Registry    *registry.Registry
	CodeHost    *codehost.Host
	Memory      *memory.Subsystem
	Logs        *logsink.Sink
	Docs        *docstore.Store
	Metrics     *metrics.Metrics
	Broadcaster *broadcaster.Broadcaster
	MCP         *mcpsurface.Surface

	ServerName    string
	ServerVersion string
}

// New assembles the full router. The Registry's HandlerFactory must be set
// to a *handlerFactory built from the same CodeHost/Logs/Metrics before any
// service is activated — callers do this by building one with
// NewHandlerFactory from the same CodeHost/Logs/Metrics and passing it to
// registry.New (see cmd/uxmcpd's wiring order).
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestMetrics(d.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler)
	r.Get("/readyz", readyHandler(d))
	r.Handle("/metrics", d.Metrics.Handler())

	mountServices(r, d)
	mountAgents(r, d)
	mountLLMs(r, d)
	mountMetaAgent(r, d)
	mountLogs(r, d)
	mountMCP(r, d)

	r.NotFound(dynamicDispatch(d.Registry.Routes))

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Docs == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		if err := d.Docs.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "detail": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// requestMetrics records every request's Prometheus counters using chi's
// matched route pattern rather than the raw path, mirroring the teacher's
// http_metrics_middleware.go so dynamic service routes don't blow up the
// metric's cardinality with one label value per concrete path.
func requestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = r.URL.Path
			}
			m.RecordHTTPRequest(r.Method, pattern, ww.Status(), time.Since(start))
		})
	}
}

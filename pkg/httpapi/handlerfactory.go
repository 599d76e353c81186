package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uxmcp/uxmcp/pkg/codehost"
	"github.com/uxmcp/uxmcp/pkg/logsink"
	"github.com/uxmcp/uxmcp/pkg/metrics"
	"github.com/uxmcp/uxmcp/pkg/registry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// handlerFactory implements registry.HandlerFactory: it turns a Service's
// declared handler source into the net/http.Handler mounted at its route,
// binding path/query/body parameters into the Code Host's param map and
// running every invocation through it.
type handlerFactory struct {
	host    *codehost.Host
	logs    *logsink.Sink
	metrics *metrics.Metrics
}

func newHandlerFactory(host *codehost.Host, logs *logsink.Sink, m *metrics.Metrics) *handlerFactory {
	return &handlerFactory{host: host, logs: logs, metrics: m}
}

// NewHandlerFactory is the composition root's entry point (cmd/uxmcpd):
// registry.New needs a registry.HandlerFactory before any service can be
// activated, built from the same Code Host/Log Sink/Metrics instances
// passed into Deps here.
func NewHandlerFactory(host *codehost.Host, logs *logsink.Sink, m *metrics.Metrics) registry.HandlerFactory {
	return newHandlerFactory(host, logs, m)
}

func (f *handlerFactory) BuildHandler(svc *registry.Service) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := bindParams(r, svc.Params)
		if err != nil {
			writeError(w, err)
			return
		}

		executionID := uuid.NewString()
		logf := func(level, msg string, kv ...any) {
			if f.logs == nil {
				return
			}
			_ = f.logs.Write(r.Context(), logsink.Entry{
				ExecutionID: executionID,
				ServiceID:   svc.ID,
				Level:       logsink.Level(level),
				Message:     msg,
				Details:     fieldsFromKV(kv),
				Timestamp:   time.Now().UTC(),
			})
		}

		start := time.Now()
		result, err := f.host.Invoke(r.Context(), codehost.Request{
			ExecutionID:  executionID,
			Source:       svc.HandlerSrc,
			Dependencies: svc.Dependencies,
			Params:       params,
			Logf:         logf,
		})
		f.metrics.RecordCodehostInvoke(svc.Name, time.Since(start))
		if f.logs != nil {
			f.logs.CloseExecution(executionID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}), nil
}

// bindParams merges path, query, and (for bodies that carry one) JSON-body
// values into a single param map, coercing each to the param's declared
// type; a param declared required but absent from all three sources is a
// ValidationFailed.
func bindParams(r *http.Request, decl []registry.Param) (map[string]any, error) {
	params := make(map[string]any, len(decl))

	var body map[string]any
	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if r.ContentLength != 0 {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
	}

	for _, p := range decl {
		if v := chi.URLParam(r, p.Name); v != "" {
			params[p.Name] = coerce(p.Type, v)
			continue
		}
		if v := r.URL.Query().Get(p.Name); v != "" {
			params[p.Name] = coerce(p.Type, v)
			continue
		}
		if body != nil {
			if v, ok := body[p.Name]; ok {
				params[p.Name] = v
				continue
			}
		}
		if p.Required {
			return nil, uxerr.FieldError(uxerr.ValidationFailed, p.Name, "missing required parameter")
		}
	}
	return params, nil
}

func coerce(t registry.ParamType, v string) any {
	switch t {
	case registry.ParamNumber:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		return v
	case registry.ParamBoolean:
		return v == "true" || v == "1"
	default:
		return v
	}
}

func fieldsFromKV(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}

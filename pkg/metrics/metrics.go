// Package metrics exposes Prometheus counters/histograms for the
// components SPEC_FULL.md names, grounded on the teacher's
// pkg/observability/metrics.go (same CounterVec/HistogramVec/GaugeVec
// shape, nil-receiver-safe Record* methods) but scoped down from hector's
// generic agent/LLM/session/RAG surface to UXMCP's own: executor
// executions, tool-call latency, meta-agent pipeline attempts, Code Host
// invocation duration, and the HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every Record method no-ops on a nil receiver so
// callers don't need a feature flag check at every call site.
type Metrics struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	executionErrors    *prometheus.CounterVec
	activeExecutions   *prometheus.GaugeVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolCallErrors   *prometheus.CounterVec

	codehostInvokeDuration *prometheus.HistogramVec

	metaagentAttempts *prometheus.CounterVec
	metaagentDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

type Config struct {
	Namespace string // defaults to "uxmcp"
}

func New(cfg Config) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "uxmcp"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "executor", Name: "executions_total",
		Help: "Total number of agent executions.",
	}, []string{"agent_name"})
	m.executionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "executor", Name: "execution_duration_seconds",
		Help: "Agent execution wall-clock duration.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"agent_name"})
	m.executionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "executor", Name: "execution_errors_total",
		Help: "Total number of agent executions that terminated in error.",
	}, []string{"agent_name", "error_kind"})
	m.activeExecutions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "executor", Name: "active_executions",
		Help: "Number of agent executions currently in flight.",
	}, []string{"agent_name"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "executor", Name: "tool_calls_total",
		Help: "Total number of tool calls dispatched by the executor.",
	}, []string{"tool_name"})
	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "executor", Name: "tool_call_duration_seconds",
		Help: "Tool call duration as observed by the executor.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool_name"})
	m.toolCallErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "executor", Name: "tool_call_errors_total",
		Help: "Total number of tool calls that returned an error.",
	}, []string{"tool_name", "error_kind"})

	m.codehostInvokeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "codehost", Name: "invoke_duration_seconds",
		Help: "Code Host handler invocation duration, including sandbox setup.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"service_name"})

	m.metaagentAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "metaagent", Name: "pipeline_attempts_total",
		Help: "Total number of meta-agent pipeline stage attempts.",
	}, []string{"stage", "outcome"})
	m.metaagentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "metaagent", Name: "pipeline_duration_seconds",
		Help: "Meta-agent pipeline end-to-end duration.", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"outcome"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests served.",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request duration.", Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.executions, m.executionDuration, m.executionErrors, m.activeExecutions,
		m.toolCalls, m.toolCallDuration, m.toolCallErrors,
		m.codehostInvokeDuration,
		m.metaagentAttempts, m.metaagentDuration,
		m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) RecordExecution(agentName string, duration time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(agentName).Inc()
	m.executionDuration.WithLabelValues(agentName).Observe(duration.Seconds())
	if errKind != "" {
		m.executionErrors.WithLabelValues(agentName, errKind).Inc()
	}
}

func (m *Metrics) IncActiveExecutions(agentName string) {
	if m == nil {
		return
	}
	m.activeExecutions.WithLabelValues(agentName).Inc()
}

func (m *Metrics) DecActiveExecutions(agentName string) {
	if m == nil {
		return
	}
	m.activeExecutions.WithLabelValues(agentName).Dec()
}

func (m *Metrics) RecordToolCall(toolName string, duration time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
	if errKind != "" {
		m.toolCallErrors.WithLabelValues(toolName, errKind).Inc()
	}
}

func (m *Metrics) RecordCodehostInvoke(serviceName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.codehostInvokeDuration.WithLabelValues(serviceName).Observe(duration.Seconds())
}

func (m *Metrics) RecordMetaagentAttempt(stage, outcome string) {
	if m == nil {
		return
	}
	m.metaagentAttempts.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) RecordMetaagentPipeline(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.metaagentDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler exposes the registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

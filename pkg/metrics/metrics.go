// Package metrics instruments the server with Prometheus counters and
// keeps a lightweight snapshot of the same numbers for the dashboard.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxLabelLen is the maximum length for a metric label value.
const maxLabelLen = 64

// sanitizeLabel ensures a label value is safe for Prometheus:
// - Truncates to maxLabelLen
// - Replaces spaces with underscores
// - Returns "unknown" for empty values
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// Metrics owns a private Prometheus registry so that repeated
// initializations (one per server instance, many per test binary) never
// collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	toolBlocked     *prometheus.CounterVec
	judgments       *prometheus.CounterVec
	blocksSealed    prometheus.Counter
	judgmentsSealed prometheus.Counter
	hookEvents      *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpInFlight    prometheus.Gauge
	sseClients      prometheus.Gauge

	startedAt time.Time

	// Shadow counters for the dashboard snapshot. Prometheus counters
	// cannot be read back cheaply, so the same increments land here too.
	shadowToolCalls  atomic.Int64
	shadowToolErrors atomic.Int64
	shadowBlocked    atomic.Int64
	shadowBlocks     atomic.Int64
	shadowHTTP       atomic.Int64
	shadowSSE        atomic.Int64

	verdictMu sync.Mutex
	verdicts  map[string]int64
}

// New builds a Metrics instance with all instruments registered.
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startedAt: time.Now().UTC(),
		verdicts:  make(map[string]int64),

		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kennel",
				Subsystem: "tools",
				Name:      "calls_total",
				Help:      "Total tool invocations by tool name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kennel",
				Subsystem: "tools",
				Name:      "call_duration_seconds",
				Help:      "Tool handler execution time in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"tool"},
		),
		toolBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kennel",
				Subsystem: "tools",
				Name:      "blocked_total",
				Help:      "Total tool invocations blocked by hook agents",
			},
			[]string{"tool", "agent"},
		),
		judgments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kennel",
				Subsystem: "judge",
				Name:      "judgments_total",
				Help:      "Total judgments recorded by verdict",
			},
			[]string{"verdict"},
		),
		blocksSealed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kennel",
				Subsystem: "chain",
				Name:      "blocks_sealed_total",
				Help:      "Total proof-of-judgment blocks sealed",
			},
		),
		judgmentsSealed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kennel",
				Subsystem: "chain",
				Name:      "judgments_sealed_total",
				Help:      "Total judgment references sealed into blocks",
			},
		),
		hookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kennel",
				Subsystem: "hooks",
				Name:      "events_total",
				Help:      "Total hook events received by type",
			},
			[]string{"type"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kennel",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kennel",
				Subsystem: "http",
				Name:      "in_flight_requests",
				Help:      "HTTP requests currently being served",
			},
		),
		sseClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kennel",
				Subsystem: "http",
				Name:      "sse_clients",
				Help:      "Server-sent event streams currently connected",
			},
		),
	}

	m.registry.MustRegister(
		m.toolCalls,
		m.toolDuration,
		m.toolBlocked,
		m.judgments,
		m.blocksSealed,
		m.judgmentsSealed,
		m.hookEvents,
		m.httpRequests,
		m.httpInFlight,
		m.sseClients,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordToolCall records one completed tool invocation.
func (m *Metrics) RecordToolCall(tool string, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
		m.shadowToolErrors.Add(1)
	}
	m.toolCalls.WithLabelValues(sanitizeLabel(tool), outcome).Inc()
	m.toolDuration.WithLabelValues(sanitizeLabel(tool)).Observe(duration.Seconds())
	m.shadowToolCalls.Add(1)
}

// RecordToolBlocked records a tool invocation denied by a hook agent.
func (m *Metrics) RecordToolBlocked(tool, agent string) {
	m.toolBlocked.WithLabelValues(sanitizeLabel(tool), sanitizeLabel(agent)).Inc()
	m.shadowBlocked.Add(1)
}

// RecordJudgment records a judgment by verdict.
func (m *Metrics) RecordJudgment(verdict string) {
	m.judgments.WithLabelValues(sanitizeLabel(verdict)).Inc()

	m.verdictMu.Lock()
	m.verdicts[verdict]++
	m.verdictMu.Unlock()
}

// RecordBlockSealed records one sealed block and the judgments inside it.
func (m *Metrics) RecordBlockSealed(judgmentCount int) {
	m.blocksSealed.Inc()
	m.judgmentsSealed.Add(float64(judgmentCount))
	m.shadowBlocks.Add(1)
}

// RecordHookEvent records a hook event by type.
func (m *Metrics) RecordHookEvent(hookType string) {
	m.hookEvents.WithLabelValues(sanitizeLabel(hookType)).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string) {
	m.httpRequests.WithLabelValues(method, sanitizeLabel(path), status).Inc()
	m.shadowHTTP.Add(1)
}

// HTTPInFlightAdd moves the in-flight gauge by delta.
func (m *Metrics) HTTPInFlightAdd(delta float64) {
	m.httpInFlight.Add(delta)
}

// SSEClientAdd moves the connected-streams gauge by delta.
func (m *Metrics) SSEClientAdd(delta int64) {
	m.sseClients.Add(float64(delta))
	m.shadowSSE.Add(delta)
}

// Snapshot is a point-in-time copy of the dashboard numbers.
type Snapshot struct {
	StartedAt    time.Time        `json:"startedAt"`
	Uptime       string           `json:"uptime"`
	ToolCalls    int64            `json:"toolCalls"`
	ToolErrors   int64            `json:"toolErrors"`
	ToolsBlocked int64            `json:"toolsBlocked"`
	Judgments    map[string]int64 `json:"judgments"`
	BlocksSealed int64            `json:"blocksSealed"`
	HTTPRequests int64            `json:"httpRequests"`
	SSEClients   int64            `json:"sseClients"`
}

// Snapshot returns the current dashboard numbers.
func (m *Metrics) Snapshot() Snapshot {
	m.verdictMu.Lock()
	verdicts := make(map[string]int64, len(m.verdicts))
	for k, v := range m.verdicts {
		verdicts[k] = v
	}
	m.verdictMu.Unlock()

	return Snapshot{
		StartedAt:    m.startedAt,
		Uptime:       time.Since(m.startedAt).Round(time.Second).String(),
		ToolCalls:    m.shadowToolCalls.Load(),
		ToolErrors:   m.shadowToolErrors.Load(),
		ToolsBlocked: m.shadowBlocked.Load(),
		Judgments:    verdicts,
		BlocksSealed: m.shadowBlocks.Load(),
		HTTPRequests: m.shadowHTTP.Load(),
		SSEClients:   m.shadowSSE.Load(),
	}
}

// Package metrics exposes authd's Prometheus collectors.
//
// Metrics owns a private registry so tests and multiple servers in one process
// never collide on the global default registerer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"authd/cmd/internal/auth/session"
)

const namespace = "authd"

// Metrics records auth, sweep and HTTP metrics. It implements session.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	authOps      *prometheus.CounterVec
	sweptRows    *prometheus.CounterVec
	sweepRuns    *prometheus.CounterVec
	tokens       *prometheus.GaugeVec
	sessions     prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ session.Recorder = (*Metrics)(nil)

// New registers all collectors, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Auth operations by name and outcome.",
		}, []string{"op", "outcome"}),
		sweptRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "rows_total",
			Help:      "Rows revoked, terminated or purged by maintenance jobs.",
		}, []string{"job"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Maintenance job runs by result.",
		}, []string{"job", "result"}),
		tokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_tokens",
			Help:      "Refresh tokens by state at the last stats snapshot.",
		}, []string{"state"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Active sessions at the last stats snapshot.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authOps,
		m.sweptRows,
		m.sweepRuns,
		m.tokens,
		m.sessions,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) AuthOp(op, outcome string) {
	m.authOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Swept(job string, n int) {
	if n > 0 {
		m.sweptRows.WithLabelValues(job).Add(float64(n))
	}
}

func (m *Metrics) Stats(st session.TokenStats) {
	m.tokens.WithLabelValues("active").Set(float64(st.Active))
	m.tokens.WithLabelValues("expired").Set(float64(st.Expired))
	m.tokens.WithLabelValues("revoked").Set(float64(st.Revoked))
	m.sessions.Set(float64(st.ActiveSessions))
}

// SweepRun counts one scheduled job execution.
func (m *Metrics) SweepRun(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(job, result).Inc()
}

// ObserveHTTP records one served request. route is the matched route
// template, never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

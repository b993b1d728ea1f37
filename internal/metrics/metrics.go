// Package metrics exposes Prometheus collectors for the attendance service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	marks    *prometheus.CounterVec
	sessions *prometheus.CounterVec
	audit    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoattend",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geoattend",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoattend",
			Name:      "attendance_marks_total",
			Help:      "Attendance claims by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoattend",
			Name:      "session_actions_total",
			Help:      "Session lifecycle actions by action and outcome.",
		}, []string{"action", "outcome"}),
		audit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoattend",
			Name:      "audit_events_total",
			Help:      "Audit events handled by the worker.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.marks, m.sessions, m.audit,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GinMiddleware records request counts and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Mark counts an attendance claim; outcome is "accepted" or a rejection kind.
func (m *Metrics) Mark(outcome string) {
	if m == nil {
		return
	}
	m.marks.WithLabelValues(outcome).Inc()
}

// Session counts a start or end action.
func (m *Metrics) Session(action, outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(action, outcome).Inc()
}

// Audit counts an audit event handled by the worker.
func (m *Metrics) Audit(result string) {
	if m == nil {
		return
	}
	m.audit.WithLabelValues(result).Inc()
}

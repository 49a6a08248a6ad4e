// Package metrics exposes load, call and API counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics ignores observations.
type Metrics struct {
	registry *prometheus.Registry

	loads         *prometheus.CounterVec
	loadDuration  prometheus.Histogram
	activeVersion prometheus.Gauge
	operations    prometheus.Gauge
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "switchboard_loads_total", Help: "load attempts by outcome"},
			[]string{"outcome"},
		),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_load_duration_seconds",
			Help:    "time to build and activate a version",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		activeVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_active_version",
			Help: "id of the active version",
		}),
		operations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_operations",
			Help: "operations in the active version",
		}),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "switchboard_calls_total", Help: "calls by operation and outcome"},
			[]string{"operation", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_call_duration_seconds",
			Help:    "call latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "switchboard_http_requests_total", Help: "http requests by code and method"},
			[]string{"code", "method"},
		),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_http_response_seconds",
			Help:    "http response time",
			Buckets: []float64{0.005, 0.05, 0.5, 1, 5, 30},
		}),
	}
	m.registry.MustRegister(
		m.loads,
		m.loadDuration,
		m.activeVersion,
		m.operations,
		m.calls,
		m.callDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveLoad records one load attempt. Successful loads update the active
// version and operation gauges.
func (m *Metrics) ObserveLoad(outcome string, d time.Duration, version uint64, operations int) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
	m.loadDuration.Observe(d.Seconds())
	if outcome == "ready" {
		m.activeVersion.Set(float64(version))
		m.operations.Set(float64(operations))
	}
}

// ObserveCall records one dispatched call.
func (m *Metrics) ObserveCall(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(operation, outcome).Inc()
	m.callDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Collect is HTTP middleware counting requests. The metrics endpoint itself
// is not counted.
func (m *Metrics) Collect(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			if r.URL.Path == "/metrics" {
				return
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.httpRequests.WithLabelValues(strconv.Itoa(status), r.Method).Inc()
			m.httpDuration.Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(ww, r)
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Package metrics holds the Prometheus collectors shared by the sync agent.
//
// Every method is nil-safe so components can run without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lassmuo"

// Metrics is the agent's collector set bound to its own registry.
type Metrics struct {
	reg *prometheus.Registry

	backendRequests *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec

	progressWrites    *prometheus.CounterVec
	progressConflicts *prometheus.CounterVec

	connectivityOnline prometheus.Gauge
	connectivityFlips  prometheus.Counter

	sessionState       prometheus.Gauge
	sessionWarnings    prometheus.Counter
	sessionExpirations *prometheus.CounterVec

	bridgeClients prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Backend requests by method and outcome kind.",
		}, []string{"method", "kind"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Backend request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		progressWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "writes_total",
			Help:      "Progress write operations by op and outcome.",
		}, []string{"op", "outcome"}),
		progressConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "create_conflicts_total",
			Help:      "Create conflicts seen by upsert, by resolution.",
		}, []string{"resolution"}),
		connectivityOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "online",
			Help:      "1 when the backend is believed reachable.",
		}),
		connectivityFlips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "flips_total",
			Help:      "Published online/offline transitions.",
		}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Session lifecycle state (0 logged_out, 1 active, 2 warning).",
		}),
		sessionWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "warnings_total",
			Help:      "Expiry warnings surfaced.",
		}),
		sessionExpirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "forced_logouts_total",
			Help:      "Forced logouts by reason.",
		}, []string{"reason"}),
		bridgeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "clients",
			Help:      "Connected bridge clients.",
		}),
	}

	reg.MustRegister(
		m.backendRequests,
		m.backendLatency,
		m.progressWrites,
		m.progressConflicts,
		m.connectivityOnline,
		m.connectivityFlips,
		m.sessionState,
		m.sessionWarnings,
		m.sessionExpirations,
		m.bridgeClients,
	)
	m.connectivityOnline.Set(1)

	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveBackend records one backend round trip.
func (m *Metrics) ObserveBackend(method, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(method, kind).Inc()
	m.backendLatency.WithLabelValues(method).Observe(d.Seconds())
}

// ProgressWrite records a progress operation outcome ("ok", "error", "skipped").
func (m *Metrics) ProgressWrite(op, outcome string) {
	if m == nil {
		return
	}
	m.progressWrites.WithLabelValues(op, outcome).Inc()
}

// ProgressConflict records a create conflict ("resolved" or "fatal").
func (m *Metrics) ProgressConflict(resolution string) {
	if m == nil {
		return
	}
	m.progressConflicts.WithLabelValues(resolution).Inc()
}

// ConnectivityChanged records a published flip.
func (m *Metrics) ConnectivityChanged(online bool) {
	if m == nil {
		return
	}
	if online {
		m.connectivityOnline.Set(1)
	} else {
		m.connectivityOnline.Set(0)
	}
	m.connectivityFlips.Inc()
}

// SessionState records the current lifecycle state as a number.
func (m *Metrics) SessionState(v int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(v))
}

// SessionWarning counts one surfaced expiry warning.
func (m *Metrics) SessionWarning() {
	if m == nil {
		return
	}
	m.sessionWarnings.Inc()
}

// SessionForcedLogout counts a forced logout by reason.
func (m *Metrics) SessionForcedLogout(reason string) {
	if m == nil {
		return
	}
	m.sessionExpirations.WithLabelValues(reason).Inc()
}

// BridgeClients adjusts the connected client gauge by delta.
func (m *Metrics) BridgeClients(delta int) {
	if m == nil {
		return
	}
	m.bridgeClients.Add(float64(delta))
}

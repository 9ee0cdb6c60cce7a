// ABOUTME: Prometheus instruments for the relay hub on a private registry
// ABOUTME: All recording methods are safe on a nil *Metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "strudel_bridge"

// Metrics holds the hub's collectors.
type Metrics struct {
	registry *prometheus.Registry

	agents           prometheus.Gauge
	sent             *prometheus.CounterVec
	received         *prometheus.CounterVec
	dropped          prometheus.Counter
	results          *prometheus.CounterVec
	snapshotDuration prometheus.Histogram
	snapshotTimeouts prometheus.Counter
}

// New registers the collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		agents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_connected",
			Help:      "Number of live agent connections.",
		}),
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages queued to agents, by type.",
		}, []string{"type"}),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received from agents, by type.",
		}, []string{"type"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_dropped_total",
			Help:      "Connections removed because their send buffer was full.",
		}),
		results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_results_total",
			Help:      "Execution results reported by agents, by action and outcome.",
		}, []string{"action", "outcome"}),
		snapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Time from snapshot request to response or timeout.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		snapshotTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_timeouts_total",
			Help:      "Snapshot requests that expired without a response.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetAgents(n int) {
	if m == nil {
		return
	}
	m.agents.Set(float64(n))
}

func (m *Metrics) Sent(msgType string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Received(msgType string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// Result counts an execution result. An empty action counts as "execute".
func (m *Metrics) Result(action string, success bool) {
	if m == nil {
		return
	}
	if action == "" {
		action = "execute"
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.results.WithLabelValues(action, outcome).Inc()
}

// Snapshot observes one snapshot round trip.
func (m *Metrics) Snapshot(d time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.snapshotDuration.Observe(d.Seconds())
	if timedOut {
		m.snapshotTimeouts.Inc()
	}
}

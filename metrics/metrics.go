// Package metrics exposes Prometheus collectors for the server.
//
// Collectors live on a private registry rather than the global one so several servers
// (and tests) can coexist in one process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "workspace_mcp"

type Metrics struct {
	Calls       *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	InFlight    prometheus.Gauge
	Connections prometheus.Gauge
	Frames      *prometheus.CounterVec
	Rejected    *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Dispatched handler calls by method and outcome.",
		}, []string{"method", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Handler latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_in_flight",
			Help:      "Handler calls currently executing.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open peer connections.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames read and written.",
		}, []string{"direction"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Frames answered without reaching a handler, by reason.",
		}, []string{"reason"}),
		registry: reg,
	}
	reg.MustRegister(
		m.Calls, m.Duration, m.InFlight, m.Connections, m.Frames, m.Rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests and for embedding in a larger registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

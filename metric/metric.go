// Package metric provides Prometheus instrumentation for the NADI core:
// envelope routing outcomes, delivery latency, the size of the live node and
// connection tables, and control message traffic through the context
// controller.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains all core metrics of a NADI system.
type Metrics struct {
	// Routing metrics
	EnvelopesRouted  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	// Graph state metrics
	NodesLive       prometheus.Gauge
	ConnectionsLive prometheus.Gauge

	// Context controller metrics
	ControlRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EnvelopesRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nadi",
				Subsystem: "router",
				Name:      "envelopes_total",
				Help:      "Total number of envelopes routed, by outcome status",
			},
			[]string{"status"},
		),

		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nadi",
				Subsystem: "router",
				Name:      "delivery_duration_seconds",
				Help:      "Synchronous delivery duration including the receive callback",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		NodesLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nadi",
				Subsystem: "graph",
				Name:      "nodes_live",
				Help:      "Number of live nodes, context controller included",
			},
		),

		ConnectionsLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nadi",
				Subsystem: "graph",
				Name:      "connections_live",
				Help:      "Number of live directed connections",
			},
		),

		ControlRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nadi",
				Subsystem: "control",
				Name:      "requests_total",
				Help:      "Control messages handled by the context controller, by type and status",
			},
			[]string{"type", "status"},
		),
	}
}

// ObserveDelivery records one routing outcome with its duration.
func (m *Metrics) ObserveDelivery(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.EnvelopesRouted.WithLabelValues(status).Inc()
	m.DeliveryDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveControl records one handled control request.
func (m *Metrics) ObserveControl(msgType, status string) {
	if m == nil {
		return
	}
	m.ControlRequests.WithLabelValues(msgType, status).Inc()
}

// SetGraphSize updates the live node and connection gauges.
func (m *Metrics) SetGraphSize(nodes, connections int) {
	if m == nil {
		return
	}
	m.NodesLive.Set(float64(nodes))
	m.ConnectionsLive.Set(float64(connections))
}

// Registry bundles the core metrics with a dedicated Prometheus registry.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
}

// NewRegistry creates a metrics registry with core metrics and Go runtime
// collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
	}

	r.prometheusRegistry.MustRegister(
		r.Metrics.EnvelopesRouted,
		r.Metrics.DeliveryDuration,
		r.Metrics.NodesLive,
		r.Metrics.ConnectionsLive,
		r.Metrics.ControlRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry for exposure
// via promhttp.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

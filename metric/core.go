package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core runtime metrics registered on every registry.
// Pipeline, scheduler and queue metrics are registered by their own
// packages through the MetricsRegistrar interface.
type Metrics struct {
	PipelineStatus *prometheus.GaugeVec
	ErrorsTotal    *prometheus.CounterVec

	// Bridge metrics
	BridgeConnected  prometheus.Gauge
	BridgeRTT        prometheus.Gauge
	BridgeReconnects prometheus.Counter
	BridgeExported   *prometheus.CounterVec
	BridgeImported   *prometheus.CounterVec
	BridgeDropped    *prometheus.CounterVec
}

// NewMetrics creates the core metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		PipelineStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chronoflow",
				Subsystem: "runtime",
				Name:      "pipeline_status",
				Help:      "Pipeline lifecycle state (0=created, 1=running, 2=stopping, 3=stopped)",
			},
			[]string{"pipeline"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chronoflow",
				Subsystem: "runtime",
				Name:      "errors_total",
				Help:      "Total errors by component and classification",
			},
			[]string{"component", "class"},
		),

		BridgeConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chronoflow",
				Subsystem: "bridge",
				Name:      "connected",
				Help:      "Bus connection status (0=disconnected, 1=connected)",
			},
		),

		BridgeRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chronoflow",
				Subsystem: "bridge",
				Name:      "rtt_milliseconds",
				Help:      "Bus round-trip time in milliseconds",
			},
		),

		BridgeReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chronoflow",
				Subsystem: "bridge",
				Name:      "reconnects_total",
				Help:      "Total bus reconnections",
			},
		),

		BridgeExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chronoflow",
				Subsystem: "bridge",
				Name:      "exported_total",
				Help:      "Messages published to the bus",
			},
			[]string{"subject"},
		),

		BridgeImported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chronoflow",
				Subsystem: "bridge",
				Name:      "imported_total",
				Help:      "Messages received from the bus",
			},
			[]string{"subject"},
		),

		BridgeDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chronoflow",
				Subsystem: "bridge",
				Name:      "dropped_total",
				Help:      "Bus messages dropped before reaching the pipeline",
			},
			[]string{"subject", "reason"},
		),
	}
}

// RecordPipelineStatus updates a pipeline's lifecycle gauge.
func (c *Metrics) RecordPipelineStatus(pipeline string, state int) {
	if c == nil {
		return
	}
	c.PipelineStatus.WithLabelValues(pipeline).Set(float64(state))
}

// RecordError increments the error counter for a component.
func (c *Metrics) RecordError(component, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordBridgeStatus updates the bus connection gauge.
func (c *Metrics) RecordBridgeStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BridgeConnected.Set(value)
}

// RecordBridgeRTT updates the bus round-trip time gauge.
func (c *Metrics) RecordBridgeRTT(rtt time.Duration) {
	if c == nil {
		return
	}
	c.BridgeRTT.Set(float64(rtt.Milliseconds()))
}

// RecordBridgeReconnect increments the reconnection counter.
func (c *Metrics) RecordBridgeReconnect() {
	if c == nil {
		return
	}
	c.BridgeReconnects.Inc()
}

// RecordExported increments the exported counter for a subject.
func (c *Metrics) RecordExported(subject string) {
	if c == nil {
		return
	}
	c.BridgeExported.WithLabelValues(subject).Inc()
}

// RecordImported increments the imported counter for a subject.
func (c *Metrics) RecordImported(subject string) {
	if c == nil {
		return
	}
	c.BridgeImported.WithLabelValues(subject).Inc()
}

// RecordImportDropped increments the dropped counter for a subject.
func (c *Metrics) RecordImportDropped(subject, reason string) {
	if c == nil {
		return
	}
	c.BridgeDropped.WithLabelValues(subject, reason).Inc()
}

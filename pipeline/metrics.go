package pipeline

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/chronoflow/metric"
)

// pipelineMetrics holds Prometheus metrics for pipeline-level activity.
// Queue and scheduler metrics are registered by their own packages.
type pipelineMetrics struct {
	posted           *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	faults           prometheus.Counter
	state            prometheus.Gauge
}

func newPipelineMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *pipelineMetrics {
	m := &pipelineMetrics{
		posted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronoflow",
			Subsystem: "pipeline",
			Name:      "posted_total",
			Help:      "Total messages posted, by emitter",
		}, []string{"emitter"}),
		callbackDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chronoflow",
			Subsystem: "pipeline",
			Name:      "callback_duration_seconds",
			Help:      "Receiver callback execution time",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"receiver"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoflow",
			Subsystem: "pipeline",
			Name:      "faults_total",
			Help:      "Total component faults observed",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chronoflow",
			Subsystem: "pipeline",
			Name:      "state",
			Help:      "Pipeline state (0=created, 1=running, 2=stopping, 3=stopped)",
		}),
	}

	register := func(name string, err error) bool {
		if err != nil {
			logger.Warn("pipeline metric registration failed", "metric", name, "error", err)
			return false
		}
		return true
	}

	ok := register("posted_total", registry.RegisterCounterVec("pipeline", "posted_total", m.posted))
	ok = register("callback_duration_seconds",
		registry.RegisterHistogramVec("pipeline", "callback_duration_seconds", m.callbackDuration)) && ok
	ok = register("faults_total", registry.RegisterCounter("pipeline", "faults_total", m.faults)) && ok
	ok = register("state", registry.RegisterGauge("pipeline", "state", m.state)) && ok

	if !ok {
		return nil
	}
	return m
}

func (m *pipelineMetrics) recordState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *pipelineMetrics) recordPost(emitter string) {
	if m == nil {
		return
	}
	m.posted.WithLabelValues(emitter).Inc()
}

func (m *pipelineMetrics) recordFault() {
	if m == nil {
		return
	}
	m.faults.Inc()
}

func (m *pipelineMetrics) observeCallback(receiver string, seconds float64) {
	if m == nil {
		return
	}
	m.callbackDuration.WithLabelValues(receiver).Observe(seconds)
}

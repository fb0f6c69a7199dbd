package sched

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/chronoflow/metric"
)

// Option configures the scheduler using the functional options pattern.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size. Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPanicHandler sets the callback invoked when a unit panics. The
// pipeline uses this to convert panics into component faults.
func WithPanicHandler(handler func(domain string, recovered any)) Option {
	return func(s *Scheduler) {
		s.panicHandler = handler
	}
}

// WithMetrics enables Prometheus metrics for scheduler activity.
// If registry is nil, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Scheduler) {
		if registry == nil {
			return
		}
		m, err := newSchedMetrics(registry)
		if err != nil {
			// Metrics are diagnostics; a registration conflict must not
			// prevent scheduler construction.
			slog.Warn("scheduler metrics registration failed", "error", err)
			return
		}
		s.metrics = m
	}
}

// schedMetrics holds Prometheus metrics for scheduler activity.
type schedMetrics struct {
	dispatched   prometheus.Counter
	panics       prometheus.Counter
	busyWorkers  prometheus.Gauge
	unitDuration prometheus.Histogram
}

func newSchedMetrics(registry *metric.MetricsRegistry) (*schedMetrics, error) {
	m := &schedMetrics{
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoflow",
			Subsystem: "sched",
			Name:      "dispatched_total",
			Help:      "Total units dispatched across all domains",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronoflow",
			Subsystem: "sched",
			Name:      "panics_total",
			Help:      "Total panics recovered from scheduled units",
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chronoflow",
			Subsystem: "sched",
			Name:      "busy_workers",
			Help:      "Workers currently executing a unit",
		}),
		unitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chronoflow",
			Subsystem: "sched",
			Name:      "unit_duration_seconds",
			Help:      "Execution time of scheduled units",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
	}

	if err := registry.RegisterCounter("sched", "dispatched_total", m.dispatched); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("sched", "panics_total", m.panics); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("sched", "busy_workers", m.busyWorkers); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("sched", "unit_duration_seconds", m.unitDuration); err != nil {
		return nil, err
	}

	return m, nil
}

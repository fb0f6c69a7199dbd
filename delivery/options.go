package delivery

import (
	"time"

	"github.com/c360/chronoflow/metric"
)

// Option configures queue behavior using the functional options pattern.
type Option[T any] func(*queueOptions[T])

// queueOptions holds internal configuration for queue instances.
type queueOptions[T any] struct {
	now         func() time.Time
	dropHandler func(T)
	readySignal func()

	metricsReg   *metric.MetricsRegistry
	metricsLabel string
	metrics      *queueMetrics
}

// WithNowFunc overrides the clock used by the lag constraint. The pipeline
// wires its own clock here; tests use it for determinism.
func WithNowFunc[T any](now func() time.Time) Option[T] {
	return func(opts *queueOptions[T]) {
		if now != nil {
			opts.now = now
		}
	}
}

// WithDropHandler sets a callback invoked (outside the queue lock) for every
// item dropped by replacement, lag eviction, or Clear.
func WithDropHandler[T any](handler func(T)) Option[T] {
	return func(opts *queueOptions[T]) {
		opts.dropHandler = handler
	}
}

// WithReadySignal sets a callback invoked after every successful enqueue.
// The pipeline uses it to schedule the receiver's delivery task.
func WithReadySignal[T any](signal func()) Option[T] {
	return func(opts *queueOptions[T]) {
		opts.readySignal = signal
	}
}

// WithMetrics enables Prometheus metrics export for queue counters.
// If registry is nil or label is empty, this option is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, label string) Option[T] {
	return func(opts *queueOptions[T]) {
		if registry != nil && label != "" {
			opts.metricsReg = registry
			opts.metricsLabel = label
		}
	}
}

func applyOptions[T any](policy Policy, options ...Option[T]) (*queueOptions[T], error) {
	opts := &queueOptions[T]{
		now: time.Now,
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	if opts.metricsReg != nil {
		m, err := newQueueMetrics(opts.metricsReg, opts.metricsLabel, policy.String())
		if err != nil {
			return nil, err
		}
		opts.metrics = m
	}

	return opts, nil
}

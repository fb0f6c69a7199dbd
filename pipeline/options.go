package pipeline

import (
	"context"
	"log/slog"

	"github.com/c360/chronoflow/clone"
	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/metric"
)

// Option configures a pipeline using the functional options pattern.
type Option func(*Pipeline)

// WithWorkers sets the scheduler worker pool size.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics for the pipeline, its scheduler,
// and every delivery queue. If registry is nil, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Pipeline) {
		p.metricsReg = registry
	}
}

// WithCloneRegistry supplies a pre-configured clone registry, typically one
// with application-type permissions registered before any message flows.
func WithCloneRegistry(registry *clone.Registry) Option {
	return func(p *Pipeline) {
		if registry != nil {
			p.cloneReg = registry
		}
	}
}

// WithClock overrides the pipeline clock, for replay or tests.
func WithClock(clock *Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithDefaultPolicy sets the delivery policy used by Pipe when the caller
// passes a zero policy. Defaults to Unlimited.
func WithDefaultPolicy(policy delivery.Policy) Option {
	return func(p *Pipeline) {
		p.defaultPolicy = policy
	}
}

// ComponentOption configures a component at AddComponent time.
type ComponentOption func(*Component)

// SameDomainAs places the new component in another component's
// synchronization domain, serializing their callbacks together.
func SameDomainAs(other *Component) ComponentOption {
	return func(c *Component) {
		if other != nil {
			c.domain = other.domain
		}
	}
}

// ReceiverOption configures a receiver at creation time.
type ReceiverOption[T any] func(*Receiver[T])

// WithOnClosed registers a hook invoked, inside the component's domain,
// after the receiver has observed every retained message of a closed stream.
func WithOnClosed[T any](hook func(ctx context.Context) error) ReceiverOption[T] {
	return func(r *Receiver[T]) {
		r.onClosed = hook
	}
}

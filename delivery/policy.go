// Package delivery provides the per-receiver delivery queues and the
// backpressure policies governing how a slow consumer affects a fast
// producer. Each emitter→receiver connection carries one Policy and, unless
// the policy is synchronous, one Queue.
package delivery

import (
	"fmt"
	"time"

	cerrors "github.com/c360/chronoflow/errors"
)

// Policy configures queueing, dropping, and backpressure behavior for one
// emitter→receiver connection.
type Policy struct {
	// Name identifies the policy in logs and metrics.
	Name string

	// InitialQueueSize is the queue's starting capacity. Zero picks a
	// small default.
	InitialQueueSize int

	// MaximumQueueSize bounds the queue. Zero or negative means unbounded.
	MaximumQueueSize int

	// LagConstraint, when positive, drops queued items whose originating
	// time lags the pipeline clock by more than this duration, trading
	// latency for freshness.
	LagConstraint time.Duration

	// ThrottleWhenFull blocks the producer's enqueue call when the queue
	// is at MaximumQueueSize, instead of dropping. This is the runtime's
	// sole backpressure mechanism.
	ThrottleWhenFull bool

	// Synchronous bypasses the queue entirely: the receiver callback runs
	// inline on the producing call stack and the value is shared by
	// reference, not cloned.
	Synchronous bool
}

const defaultInitialQueueSize = 16

// Unlimited returns the policy with an unbounded FIFO queue: never drops,
// never blocks the producer.
func Unlimited() Policy {
	return Policy{
		Name:             "unlimited",
		InitialQueueSize: defaultInitialQueueSize,
	}
}

// LatestMessage returns the capacity-one policy where a newer arrival
// replaces the queued one. The consumer sees only the most recent value once
// it becomes free; the producer is never blocked.
func LatestMessage() Policy {
	return Policy{
		Name:             "latest",
		InitialQueueSize: 1,
		MaximumQueueSize: 1,
	}
}

// Throttled returns a bounded FIFO policy that blocks the producer's post
// call while the queue is at capacity, until the consumer drains space.
func Throttled(maximumQueueSize int) Policy {
	if maximumQueueSize <= 0 {
		maximumQueueSize = 1
	}
	return Policy{
		Name:             "throttled",
		InitialQueueSize: min(maximumQueueSize, defaultInitialQueueSize),
		MaximumQueueSize: maximumQueueSize,
		ThrottleWhenFull: true,
	}
}

// Synchronous returns the immediate-delivery policy: no queue, the callback
// executes on the posting thread before Post returns, and the original
// reference is handed to the consumer.
func Synchronous() Policy {
	return Policy{
		Name:        "synchronous",
		Synchronous: true,
	}
}

// WithLagConstraint returns a copy of the policy that additionally ages out
// items lagging the pipeline clock by more than bound.
func (p Policy) WithLagConstraint(bound time.Duration) Policy {
	p.LagConstraint = bound
	return p
}

// Validate checks the policy for contradictory settings.
func (p Policy) Validate() error {
	if p.Synchronous {
		if p.MaximumQueueSize > 0 || p.ThrottleWhenFull || p.LagConstraint > 0 {
			return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "Policy", "Validate",
				"synchronous delivery has no queue to configure")
		}
		return nil
	}
	if p.ThrottleWhenFull && p.MaximumQueueSize <= 0 {
		return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "Policy", "Validate",
			"throttling requires a bounded queue")
	}
	if p.InitialQueueSize < 0 {
		return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "Policy", "Validate",
			"initial queue size cannot be negative")
	}
	if p.MaximumQueueSize > 0 && p.InitialQueueSize > p.MaximumQueueSize {
		return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "Policy", "Validate",
			"initial queue size exceeds maximum")
	}
	return nil
}

// String returns the policy name, or a description of a custom configuration.
func (p Policy) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("custom(max=%d throttle=%t sync=%t lag=%s)",
		p.MaximumQueueSize, p.ThrottleWhenFull, p.Synchronous, p.LagConstraint)
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/chronoflow/clone"
	"github.com/c360/chronoflow/delivery"
	cerrors "github.com/c360/chronoflow/errors"
	"github.com/c360/chronoflow/message"
)

// Emitter is a typed output port owned by exactly one component. Sequence
// ids issued by one emitter are strictly increasing; originating times must
// be non-decreasing across posts (a regression is a fatal caller error).
type Emitter[T any] struct {
	name     string
	comp     *Component
	sourceID int

	mu      sync.Mutex
	seq     int64
	lastOT  time.Time
	hasLast bool
	closed  bool
	subs    []subscription[T]
}

// subscription pairs a receiver with the delivery policy chosen when the
// connection was made.
type subscription[T any] struct {
	recv   *Receiver[T]
	policy delivery.Policy
}

// NewEmitter creates a typed output port on a component. The pipeline
// assigns the port's source identity.
func NewEmitter[T any](c *Component, name string) *Emitter[T] {
	if c == nil {
		panic("pipeline: NewEmitter on nil component")
	}
	e := &Emitter[T]{
		name:     c.name + "." + name,
		comp:     c,
		sourceID: c.p.allocateSourceID(),
	}
	c.p.registerCloser(e.closeForShutdown)
	return e
}

// Name returns the emitter's qualified name (component.port).
func (e *Emitter[T]) Name() string {
	return e.name
}

// SourceID returns the pipeline-unique identity stamped into envelopes.
func (e *Emitter[T]) SourceID() int {
	return e.sourceID
}

// Post publishes a value at the given originating time to every subscribed
// receiver. The context must carry the owning component's execution token:
// either a receiver callback context or a Component.DriverContext.
//
// Fan-out is policy-specific per connection: synchronous subscriptions run
// the consumer callback inline sharing the value by reference; queued
// subscriptions receive an isolated deep clone.
func (e *Emitter[T]) Post(ctx context.Context, value T, originatingTime time.Time) error {
	p := e.comp.p

	// Stopping still accepts posts: receivers forwarding in-flight messages
	// must complete the drain before emitters close.
	switch p.State() {
	case StateRunning, StateStopping:
	default:
		return cerrors.WrapInvalid(cerrors.ErrPipelineNotRunning, "Emitter", "Post", "post on "+e.name)
	}
	if tokenFrom(ctx) != e.comp {
		err := cerrors.WrapFatal(
			fmt.Errorf("%w: emitter %s owned by component %q", cerrors.ErrWrongContext, e.name, e.comp.name),
			"Emitter", "Post", "ownership check")
		e.comp.fault("Post", err)
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return cerrors.WrapInvalid(cerrors.ErrStreamClosed, "Emitter", "Post", "post on closed "+e.name)
	}
	if e.hasLast && originatingTime.Before(e.lastOT) {
		e.mu.Unlock()
		err := cerrors.WrapFatal(
			fmt.Errorf("%w: emitter %s: %s < %s", cerrors.ErrOrderingViolation, e.name,
				originatingTime.Format(time.RFC3339Nano), e.lastOT.Format(time.RFC3339Nano)),
			"Emitter", "Post", "originating time check")
		e.comp.fault("Post", err)
		return err
	}
	e.lastOT = originatingTime
	e.hasLast = true
	e.seq++
	envelope := message.Envelope{
		SourceID:        e.sourceID,
		SequenceID:      e.seq,
		OriginatingTime: originatingTime,
		CreationTime:    p.clock.Now(),
	}
	subs := e.subs
	e.mu.Unlock()

	p.metrics.recordPost(e.name)

	for _, sub := range subs {
		if sub.policy.Synchronous {
			if err := sub.recv.deliverInline(ctx, message.New(value, envelope)); err != nil {
				return err
			}
			continue
		}

		// Queued delivery isolates the consumer's copy: the producer may
		// keep mutating value after Post returns.
		cloned, err := clone.CloneValue(p.cloneReg, value)
		if err != nil {
			e.comp.fault("Post", err)
			return err
		}
		if err := sub.recv.enqueue(ctx, message.New(cloned, envelope)); err != nil {
			return err
		}
	}
	return nil
}

// Close ends the stream. Each subscribed receiver observes the closure
// after every message retained in its queue, then runs its OnClosed hook.
// Emitters close automatically when the pipeline stops.
func (e *Emitter[T]) Close(ctx context.Context) error {
	if tokenFrom(ctx) != e.comp {
		return cerrors.WrapFatal(
			fmt.Errorf("%w: emitter %s owned by component %q", cerrors.ErrWrongContext, e.name, e.comp.name),
			"Emitter", "Close", "ownership check")
	}
	e.closeForShutdown(ctx)
	return nil
}

// closeForShutdown closes the stream without an ownership check; the
// pipeline uses it directly at stop.
func (e *Emitter[T]) closeForShutdown(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	ot := e.lastOT
	if !e.hasLast {
		ot = e.comp.p.clock.Now()
	}
	subs := e.subs
	e.mu.Unlock()

	for _, sub := range subs {
		sub.recv.streamClosed(ctx, ot)
	}
}

// subscribe attaches a receiver. Called by Pipe with the connection policy.
func (e *Emitter[T]) subscribe(r *Receiver[T], policy delivery.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return cerrors.WrapInvalid(cerrors.ErrStreamClosed, "Emitter", "subscribe", "subscribe on closed "+e.name)
	}
	e.subs = append(e.subs, subscription[T]{recv: r, policy: policy})
	return nil
}

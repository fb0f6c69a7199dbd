package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/chronoflow/delivery"
	cerrors "github.com/c360/chronoflow/errors"
	"github.com/c360/chronoflow/message"
)

// Callback consumes one message. It runs on the owning component's
// synchronization domain, so callbacks of one component never overlap.
type Callback[T any] func(ctx context.Context, m message.Message[T]) error

// rxItem wraps a queued message so stream closure travels the same FIFO
// path as data and is observed only after every retained message.
type rxItem[T any] struct {
	msg message.Message[T]
}

// Receiver is a typed input port. It binds to at most one emitter; the
// delivery policy is fixed when the connection is made.
type Receiver[T any] struct {
	name     string
	comp     *Component
	callback Callback[T]
	onClosed func(ctx context.Context) error

	mu     sync.Mutex
	bound  bool
	policy delivery.Policy
	queue  *delivery.Queue[rxItem[T]]

	// mailbox guards the one outstanding delivery unit per receiver.
	mailbox        atomic.Bool
	closeRequested atomic.Bool
	closeOT        atomic.Pointer[time.Time]
	closeDelivered atomic.Bool
}

// NewReceiver creates a typed input port on a component.
func NewReceiver[T any](c *Component, name string, callback Callback[T], opts ...ReceiverOption[T]) *Receiver[T] {
	if c == nil {
		panic("pipeline: NewReceiver on nil component")
	}
	if callback == nil {
		panic("pipeline: NewReceiver with nil callback")
	}
	r := &Receiver[T]{
		name:     c.name + "." + name,
		comp:     c,
		callback: callback,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the receiver's qualified name (component.port).
func (r *Receiver[T]) Name() string {
	return r.name
}

// Pipe connects an emitter to a receiver under the given delivery policy.
// A receiver accepts exactly one connection.
func Pipe[T any](e *Emitter[T], r *Receiver[T], policy delivery.Policy) error {
	if policy == (delivery.Policy{}) {
		policy = r.comp.p.defaultPolicy
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	if e.comp.p != r.comp.p {
		return cerrors.WrapInvalid(
			fmt.Errorf("cannot pipe %s to %s: different pipelines", e.name, r.name),
			"Pipe", "Pipe", "pipeline check")
	}

	p := r.comp.p
	r.mu.Lock()
	if r.bound {
		r.mu.Unlock()
		return cerrors.WrapInvalid(
			fmt.Errorf("%w: receiver %s", cerrors.ErrReceiverBound, r.name),
			"Pipe", "Pipe", "binding check")
	}
	r.bound = true
	r.policy = policy
	if !policy.Synchronous {
		q, err := delivery.NewQueue(policy,
			delivery.WithNowFunc[rxItem[T]](p.clock.Now),
			delivery.WithReadySignal[rxItem[T]](r.schedule),
			delivery.WithMetrics[rxItem[T]](p.metricsReg, r.name),
		)
		if err != nil {
			r.bound = false
			r.mu.Unlock()
			return err
		}
		r.queue = q
		p.registerQueue(queueRef{
			name:      r.name,
			unbounded: policy.MaximumQueueSize <= 0,
			depth:     q.Len,
			clear:     q.Clear,
		})
	}
	r.mu.Unlock()

	return e.subscribe(r, policy)
}

// MustPipe is Pipe for static graphs built at startup; it panics on error.
func MustPipe[T any](e *Emitter[T], r *Receiver[T], policy delivery.Policy) {
	if err := Pipe(e, r, policy); err != nil {
		panic(err)
	}
}

// deliverInline runs the callback on the caller's goroutine after entering
// the receiver's synchronization domain. Used for synchronous connections.
func (r *Receiver[T]) deliverInline(ctx context.Context, m message.Message[T]) error {
	if r.comp.faulted.Load() {
		return nil
	}
	dctx, release, err := r.comp.domain.EnterInline(ctx)
	if err != nil {
		return cerrors.WrapTransient(
			fmt.Errorf("%w: synchronous delivery to %s", err, r.name),
			"Receiver", "deliverInline", "domain entry")
	}
	defer release()
	return r.invoke(dctx, m)
}

// enqueue admits a message to the receiver's queue. The queue's ready
// signal schedules delivery on the receiver's domain.
func (r *Receiver[T]) enqueue(ctx context.Context, m message.Message[T]) error {
	return r.queue.Enqueue(ctx, rxItem[T]{msg: m}, m.Envelope.OriginatingTime)
}

// schedule arms the receiver's mailbox: at most one delivery unit is
// outstanding on the domain at any time.
func (r *Receiver[T]) schedule() {
	if !r.mailbox.CompareAndSwap(false, true) {
		return
	}
	if err := r.comp.domain.Dispatch(r.deliverOne); err != nil {
		// Scheduler is stopped; queued items are drained by pipeline stop.
		r.mailbox.Store(false)
	}
}

// deliverOne dequeues and delivers a single message, then re-arms if work
// remains. Runs as a scheduler unit on the receiver's domain.
func (r *Receiver[T]) deliverOne(ctx context.Context) {
	item, ok := r.queue.Dequeue()
	if ok {
		if !r.comp.faulted.Load() {
			if err := r.invoke(ctx, item.msg); err != nil {
				r.comp.fault("Receive", err)
			}
		}
	} else if r.closeRequested.Load() && r.closeDelivered.CompareAndSwap(false, true) {
		r.runOnClosed(ctx)
	}

	r.mailbox.Store(false)
	// Re-check after releasing the mailbox: an enqueue racing with the
	// store above may have observed the mailbox armed and skipped its
	// dispatch.
	if r.queue.Len() > 0 || (r.closeRequested.Load() && !r.closeDelivered.Load()) {
		r.schedule()
	}
}

// invoke runs the callback with the component's execution token and
// records its duration.
func (r *Receiver[T]) invoke(ctx context.Context, m message.Message[T]) error {
	p := r.comp.p
	start := p.clock.Now()
	err := r.callback(withToken(ctx, r.comp), m)
	p.metrics.observeCallback(r.name, p.clock.Since(start).Seconds())
	return err
}

// streamClosed propagates emitter closure. Queued receivers observe it
// after draining retained messages; synchronous receivers observe it as a
// unit on their domain.
func (r *Receiver[T]) streamClosed(ctx context.Context, lastOT time.Time) {
	if !r.closeRequested.CompareAndSwap(false, true) {
		return
	}
	r.closeOT.Store(&lastOT)

	if r.policy.Synchronous {
		if err := r.comp.domain.Dispatch(func(dctx context.Context) {
			if r.closeDelivered.CompareAndSwap(false, true) {
				r.runOnClosed(dctx)
			}
		}); err == nil {
			return
		}
		// Scheduler already stopped; run inline as a last resort so the
		// hook is not lost.
		if r.closeDelivered.CompareAndSwap(false, true) {
			r.runOnClosed(ctx)
		}
		return
	}

	r.queue.Close()
	r.schedule()
}

func (r *Receiver[T]) runOnClosed(ctx context.Context) {
	if r.onClosed == nil {
		return
	}
	if err := r.onClosed(withToken(ctx, r.comp)); err != nil {
		r.comp.fault("OnClosed", err)
	}
}

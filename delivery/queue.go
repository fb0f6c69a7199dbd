package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/c360/chronoflow/errors"
)

// entry pairs a queued item with its originating time so the lag constraint
// can age items out without inspecting payloads.
type entry[T any] struct {
	item T
	ot   time.Time
}

// Queue is the per-receiver delivery queue. It is a growable ring buffer for
// unbounded policies and a fixed ring for bounded ones, with sync.Cond based
// producer throttling. Safe for one or more producers and consumers.
type Queue[T any] struct {
	mu      sync.Mutex
	notFull *sync.Cond

	items []entry[T]
	head  int // next read position
	tail  int // next write position
	size  int

	policy Policy
	closed bool
	opts   *queueOptions[T]

	// Counters use atomics so Counters() stays cheap for diagnostics even
	// while producers hold the queue lock.
	enqueued      atomic.Int64
	delivered     atomic.Int64
	dropped       atomic.Int64
	throttleWaits atomic.Int64
}

// Counters is a point-in-time snapshot of queue activity.
type Counters struct {
	Enqueued      int64
	Delivered     int64
	Dropped       int64
	ThrottleWaits int64
	Depth         int
}

// NewQueue creates a delivery queue for the given policy. Synchronous
// policies have no queue; constructing one is a configuration error.
func NewQueue[T any](policy Policy, options ...Option[T]) (*Queue[T], error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.Synchronous {
		return nil, cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "Queue", "NewQueue",
			"synchronous policy bypasses queueing")
	}

	opts, err := applyOptions(policy, options...)
	if err != nil {
		return nil, err
	}

	initial := policy.InitialQueueSize
	if initial <= 0 {
		initial = defaultInitialQueueSize
	}
	if policy.MaximumQueueSize > 0 && initial > policy.MaximumQueueSize {
		initial = policy.MaximumQueueSize
	}

	q := &Queue[T]{
		items:  make([]entry[T], initial),
		policy: policy,
		opts:   opts,
	}
	q.notFull = sync.NewCond(&q.mu)
	return q, nil
}

// Policy returns the policy this queue enforces.
func (q *Queue[T]) Policy() Policy {
	return q.policy
}

// Enqueue adds an item according to the policy. For throttled policies it
// blocks while the queue is full, until space frees, the context is
// cancelled, or the queue closes. For bounded non-throttled policies the
// oldest queued item is dropped to admit the newest.
func (q *Queue[T]) Enqueue(ctx context.Context, item T, originatingTime time.Time) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return cerrors.WrapInvalid(cerrors.ErrQueueClosed, "Queue", "Enqueue", "enqueue on closed queue")
	}

	var droppedItems []T

	if q.policy.LagConstraint > 0 {
		droppedItems = q.evictLaggingLocked(droppedItems)
	}

	if q.policy.MaximumQueueSize > 0 && q.size == q.policy.MaximumQueueSize {
		if q.policy.ThrottleWhenFull {
			if err := q.waitNotFullLocked(ctx); err != nil {
				q.mu.Unlock()
				q.callDropHandler(droppedItems)
				return err
			}
		} else {
			// Latest-message and custom bounded policies replace the
			// oldest pending item with the newest.
			droppedItems = append(droppedItems, q.popLocked().item)
			q.dropped.Add(1)
		}
	}

	if q.size == len(q.items) {
		q.growLocked()
	}

	q.items[q.tail] = entry[T]{item: item, ot: originatingTime}
	q.tail = (q.tail + 1) % len(q.items)
	q.size++
	q.enqueued.Add(1)

	if q.opts.metrics != nil {
		q.opts.metrics.recordEnqueue(q.size, len(droppedItems))
	}

	ready := q.opts.readySignal
	q.mu.Unlock()

	q.callDropHandler(droppedItems)
	if ready != nil {
		ready()
	}
	return nil
}

// Dequeue removes and returns the oldest retained item.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()

	var zero T
	if q.size == 0 {
		q.mu.Unlock()
		return zero, false
	}

	e := q.popLocked()
	q.delivered.Add(1)
	if q.opts.metrics != nil {
		q.opts.metrics.recordDequeue(q.size)
	}
	q.notFull.Signal()
	q.mu.Unlock()

	return e.item, true
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the ring's allocated capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards all queued items and returns how many were removed.
// Discarded items count as drops.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()

	removed := q.size
	var droppedItems []T
	for q.size > 0 {
		droppedItems = append(droppedItems, q.popLocked().item)
	}
	q.dropped.Add(int64(removed))
	if q.opts.metrics != nil {
		q.opts.metrics.recordClear(removed)
	}
	q.notFull.Broadcast()
	q.mu.Unlock()

	q.callDropHandler(droppedItems)
	return removed
}

// Close marks the queue closed and wakes any throttled producers. Queued
// items remain readable; further enqueues fail.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notFull.Broadcast()
}

// Counters returns a snapshot of queue activity for diagnostics.
func (q *Queue[T]) Counters() Counters {
	q.mu.Lock()
	depth := q.size
	q.mu.Unlock()

	return Counters{
		Enqueued:      q.enqueued.Load(),
		Delivered:     q.delivered.Load(),
		Dropped:       q.dropped.Load(),
		ThrottleWaits: q.throttleWaits.Load(),
		Depth:         depth,
	}
}

// popLocked removes and returns the head entry. Caller holds q.mu and has
// verified size > 0.
func (q *Queue[T]) popLocked() entry[T] {
	e := q.items[q.head]
	q.items[q.head] = entry[T]{} // release for GC
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return e
}

// growLocked doubles the ring, up to MaximumQueueSize for bounded policies.
// Callers have already ensured there is logical room for one more item.
func (q *Queue[T]) growLocked() {
	target := max(len(q.items)*2, defaultInitialQueueSize)
	if q.policy.MaximumQueueSize > 0 && target > q.policy.MaximumQueueSize {
		target = q.policy.MaximumQueueSize
	}
	next := make([]entry[T], target)
	for i := 0; i < q.size; i++ {
		next[i] = q.items[(q.head+i)%len(q.items)]
	}
	q.items = next
	q.head = 0
	q.tail = q.size
}

// evictLaggingLocked drops queued entries whose originating time lags the
// clock beyond the policy's constraint. Returns the accumulated drop list.
func (q *Queue[T]) evictLaggingLocked(dropped []T) []T {
	now := q.opts.now()
	horizon := now.Add(-q.policy.LagConstraint)
	for q.size > 0 && q.items[q.head].ot.Before(horizon) {
		dropped = append(dropped, q.popLocked().item)
		q.dropped.Add(1)
	}
	if len(dropped) > 0 {
		q.notFull.Broadcast()
	}
	return dropped
}

// waitNotFullLocked blocks the producer until space frees. The context
// watcher goroutine broadcasts on cancellation so the Cond wait wakes up.
func (q *Queue[T]) waitNotFullLocked(ctx context.Context) error {
	q.throttleWaits.Add(1)
	if q.opts.metrics != nil {
		q.opts.metrics.recordThrottleWait()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.notFull.Broadcast()
		case <-done:
		}
	}()

	for q.size == q.policy.MaximumQueueSize && !q.closed {
		if err := ctx.Err(); err != nil {
			return cerrors.WrapTransient(err, "Queue", "Enqueue", "throttled wait")
		}
		q.notFull.Wait()
		if err := ctx.Err(); err != nil {
			return cerrors.WrapTransient(err, "Queue", "Enqueue", "throttled wait")
		}
	}

	if q.closed {
		return cerrors.WrapInvalid(cerrors.ErrQueueClosed, "Queue", "Enqueue", "queue closed during throttled wait")
	}
	return nil
}

func (q *Queue[T]) callDropHandler(items []T) {
	if q.opts.dropHandler == nil {
		return
	}
	for _, item := range items {
		q.opts.dropHandler(item)
	}
}

// Package sched provides the runtime's global dispatcher: a fixed pool of
// worker goroutines draining ready synchronization domains. Units dispatched
// into one domain never execute concurrently with each other; units in
// distinct domains run in parallel across workers.
//
// The scheduler is indifferent to message content. It knows nothing about
// envelopes or temporal semantics; it only enforces domain mutual exclusion
// and per-domain FIFO dispatch order.
package sched

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	cerrors "github.com/c360/chronoflow/errors"
)

// Unit is a scheduled work closure. The context carries the execution-chain
// tokens used to detect reentrant domain entry.
type Unit func(ctx context.Context)

// Scheduler drains ready domains with a fixed worker pool.
type Scheduler struct {
	workers      int
	logger       *slog.Logger
	panicHandler func(domain string, recovered any)
	metrics      *schedMetrics

	// Run queue of domains with dispatchable units. A domain appears at
	// most once; the scheduled flag on the domain guards admission.
	readyMu   sync.Mutex
	readyCond *sync.Cond
	ready     []*Domain
	stopping  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// pending counts dispatched-but-unfinished units across all domains.
	pending atomic.Int64
	idleMu  sync.Mutex
	idleC   *sync.Cond
}

// New creates a scheduler. It does not start workers; call Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	s.readyCond = sync.NewCond(&s.readyMu)
	s.idleC = sync.NewCond(&s.idleMu)
	return s
}

// NewDomain creates a synchronization domain managed by this scheduler.
// Domains may be created before or after Start.
func (s *Scheduler) NewDomain(name string) *Domain {
	return &Domain{name: name, s: s}
}

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started {
		return cerrors.WrapInvalid(cerrors.ErrAlreadyStarted, "Scheduler", "Start", "double start")
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.started = true
	s.logger.Debug("scheduler started", "workers", s.workers)
	return nil
}

// Stop drains dispatched units and joins the workers. Units already
// dispatched keep executing until the ready queue empties or the timeout
// expires; a timeout leaves workers cancelled mid-drain.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	if !s.started || s.stopped {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.stopped = true
	// Release the lifecycle lock before joining: draining units may still
	// probe accepting(), which shares this lock.
	s.lifecycleMu.Unlock()

	s.readyMu.Lock()
	s.stopping = true
	s.readyCond.Broadcast()
	s.readyMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-timer.C:
		s.cancel()
		return cerrors.WrapTransient(cerrors.ErrStopTimeout, "Scheduler", "Stop", "worker join")
	}
}

// Idle reports whether no dispatched units are queued or executing.
func (s *Scheduler) Idle() bool {
	return s.pending.Load() == 0
}

// WaitIdle blocks until the scheduler is idle or the context is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	if s.Idle() {
		return nil
	}

	woken := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.idleMu.Lock()
			s.idleC.Broadcast()
			s.idleMu.Unlock()
		case <-woken:
		}
	}()
	defer close(woken)

	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	for s.pending.Load() != 0 {
		if err := ctx.Err(); err != nil {
			return cerrors.WrapTransient(err, "Scheduler", "WaitIdle", "idle wait")
		}
		s.idleC.Wait()
	}
	return nil
}

// pushReady admits a domain to the run queue. The caller has set the
// domain's scheduled flag under the domain lock.
func (s *Scheduler) pushReady(d *Domain) {
	s.readyMu.Lock()
	s.ready = append(s.ready, d)
	s.readyCond.Signal()
	s.readyMu.Unlock()
}

// popReady blocks for the next ready domain; nil means shut down. During
// stop, remaining ready domains are still handed out so dispatched units
// drain before workers exit.
func (s *Scheduler) popReady() *Domain {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()

	for len(s.ready) == 0 && !s.stopping {
		s.readyCond.Wait()
	}
	if len(s.ready) == 0 {
		return nil
	}

	d := s.ready[0]
	s.ready = s.ready[1:]
	return d
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		d := s.popReady()
		if d == nil {
			return
		}

		d.mu.Lock()
		d.scheduled = false
		if d.executing || len(d.queue) == 0 {
			// An inline holder owns the domain; its release will
			// reschedule. Pending units are not lost.
			d.mu.Unlock()
			continue
		}
		u := d.queue[0]
		d.queue = d.queue[1:]
		d.executing = true
		d.mu.Unlock()

		s.runUnit(d, u)

		d.mu.Lock()
		d.executing = false
		reschedule := len(d.queue) > 0 && !d.scheduled
		if reschedule {
			d.scheduled = true
		}
		d.mu.Unlock()
		if reschedule {
			s.pushReady(d)
		}

		s.unitDone()
	}
}

// runUnit executes one unit with panic isolation: a panicking callback is
// reported but never kills the worker.
func (s *Scheduler) runUnit(d *Domain, u Unit) {
	if s.metrics != nil {
		s.metrics.busyWorkers.Inc()
	}
	start := time.Now()

	defer func() {
		if s.metrics != nil {
			s.metrics.busyWorkers.Dec()
			s.metrics.unitDuration.Observe(time.Since(start).Seconds())
		}
		if r := recover(); r != nil {
			if s.metrics != nil {
				s.metrics.panics.Inc()
			}
			if s.panicHandler != nil {
				s.panicHandler(d.name, r)
			} else {
				s.logger.Error("panic in scheduled unit", "domain", d.name, "panic", r)
			}
		}
	}()

	u(withHeldDomain(s.baseCtx, d))
}

func (s *Scheduler) unitDone() {
	if s.pending.Add(-1) == 0 {
		s.idleMu.Lock()
		s.idleC.Broadcast()
		s.idleMu.Unlock()
	}
}

// accepting reports whether Dispatch may admit new units.
func (s *Scheduler) accepting() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.started {
		return cerrors.ErrNotStarted
	}
	if s.stopped {
		return cerrors.ErrShuttingDown
	}
	return nil
}

package sched

import (
	"context"
	"sync"

	cerrors "github.com/c360/chronoflow/errors"
)

// Domain is a mutual-exclusion scope: at most one unit executes within a
// domain at any instant, whether dispatched through the scheduler or entered
// inline on a producer's call stack.
type Domain struct {
	name string
	s    *Scheduler

	mu        sync.Mutex
	queue     []Unit
	executing bool // a worker or an inline holder occupies the domain
	scheduled bool // present in the scheduler's run queue
}

// Name returns the domain's diagnostic name.
func (d *Domain) Name() string {
	return d.name
}

// Dispatch queues a unit for asynchronous execution in this domain. Units
// from one dispatching caller execute in dispatch order.
func (d *Domain) Dispatch(u Unit) error {
	if u == nil {
		return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "Domain", "Dispatch", "nil unit")
	}
	if err := d.s.accepting(); err != nil {
		return cerrors.WrapInvalid(err, "Domain", "Dispatch", "scheduler not running")
	}

	d.s.pending.Add(1)
	if d.s.metrics != nil {
		d.s.metrics.dispatched.Inc()
	}

	d.mu.Lock()
	d.queue = append(d.queue, u)
	admit := !d.executing && !d.scheduled
	if admit {
		d.scheduled = true
	}
	d.mu.Unlock()

	if admit {
		d.s.pushReady(d)
	}
	return nil
}

// EnterInline acquires the domain on the caller's stack for synchronous
// delivery. It succeeds immediately when the domain is free, or when the
// calling execution chain already holds the domain (recursion on the same
// chain is permitted and release is a no-op). When another executor holds
// the domain it fails with ErrDomainBusy rather than blocking: waiting here
// could deadlock two producers delivering into each other's domains.
//
// The returned context carries the hold and must be used for the inline
// callback so nested posts detect the recursion. release reschedules the
// domain if dispatches accumulated while it was held.
func (d *Domain) EnterInline(ctx context.Context) (context.Context, func(), error) {
	if holdsDomain(ctx, d) {
		return ctx, func() {}, nil
	}

	d.mu.Lock()
	if d.executing {
		d.mu.Unlock()
		return nil, nil, cerrors.WrapTransient(cerrors.ErrDomainBusy, "Domain", "EnterInline", "inline entry into "+d.name)
	}
	d.executing = true
	d.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			d.mu.Lock()
			d.executing = false
			reschedule := len(d.queue) > 0 && !d.scheduled
			if reschedule {
				d.scheduled = true
			}
			d.mu.Unlock()
			if reschedule {
				d.s.pushReady(d)
			}
		})
	}
	return withHeldDomain(ctx, d), release, nil
}

// heldKey carries the chain of domains held by the current execution, as a
// context-threaded linked list. This replaces call-stack inspection with an
// explicit ownership token.
type heldKey struct{}

type heldDomain struct {
	d      *Domain
	parent *heldDomain
}

func withHeldDomain(ctx context.Context, d *Domain) context.Context {
	parent, _ := ctx.Value(heldKey{}).(*heldDomain)
	return context.WithValue(ctx, heldKey{}, &heldDomain{d: d, parent: parent})
}

func holdsDomain(ctx context.Context, d *Domain) bool {
	h, _ := ctx.Value(heldKey{}).(*heldDomain)
	for ; h != nil; h = h.parent {
		if h.d == d {
			return true
		}
	}
	return false
}

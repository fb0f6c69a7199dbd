package ops

import (
	"context"
	"sync"

	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/message"
	"github.com/c360/chronoflow/pipeline"
)

// Collector is a terminal sink recording every delivered message. It is
// safe for concurrent use and is the workhorse of pipeline tests.
type Collector[T any] struct {
	mu     sync.Mutex
	grew   *sync.Cond
	msgs   []message.Message[T]
	closed bool
}

// Collect attaches a collector to an emitter under the given policy.
func Collect[T any](p *pipeline.Pipeline, name string, in *pipeline.Emitter[T],
	policy delivery.Policy) *Collector[T] {

	c := &Collector[T]{}
	c.grew = sync.NewCond(&c.mu)

	comp := p.AddComponent(name)
	recv := pipeline.NewReceiver(comp, "in",
		func(ctx context.Context, m message.Message[T]) error {
			c.mu.Lock()
			c.msgs = append(c.msgs, m)
			c.grew.Broadcast()
			c.mu.Unlock()
			return nil
		},
		pipeline.WithOnClosed[T](func(ctx context.Context) error {
			c.mu.Lock()
			c.closed = true
			c.grew.Broadcast()
			c.mu.Unlock()
			return nil
		}))
	pipeline.MustPipe(in, recv, policy)
	return c
}

// Messages returns a snapshot of everything collected so far.
func (c *Collector[T]) Messages() []message.Message[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Message[T], len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Values returns just the data of everything collected so far.
func (c *Collector[T]) Values() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Data
	}
	return out
}

// Len returns the number of messages collected so far.
func (c *Collector[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// Closed reports whether the upstream emitter has closed.
func (c *Collector[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WaitLen blocks until at least n messages have been collected or ctx
// expires.
func (c *Collector[T]) WaitLen(ctx context.Context, n int) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.grew.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.msgs) < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.grew.Wait()
	}
	return nil
}

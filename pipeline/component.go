package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/chronoflow/sched"
)

// Component is a named node in the pipeline graph. It owns emitters and
// receivers and, by default, its own synchronization domain: its callbacks
// never run concurrently with each other.
type Component struct {
	name   string
	p      *Pipeline
	domain *sched.Domain

	mu      sync.Mutex
	onStart []func(ctx context.Context) error

	// faulted components stop consuming; their queued messages are dropped.
	faulted atomic.Bool
}

// Name returns the component name.
func (c *Component) Name() string {
	return c.name
}

// Pipeline returns the owning pipeline.
func (c *Component) Pipeline() *Pipeline {
	return c.p
}

// OnStart registers a source driver: a function spawned on its own goroutine
// when the pipeline starts, already carrying the component's execution token
// so it may post to the component's emitters. The pipeline auto-completes
// when every registered driver has returned.
//
// Drivers must be registered before Start.
func (c *Component) OnStart(fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if c.p.State() != StateCreated {
		panic(fmt.Sprintf("pipeline: OnStart on %q after pipeline start", c.name))
	}
	c.mu.Lock()
	c.onStart = append(c.onStart, fn)
	c.mu.Unlock()
}

// DriverContext injects the component's execution token into ctx, marking
// the calling goroutine as a sanctioned driver for this component's
// emitters. Posting without the token is a fatal wrong-context error.
func (c *Component) DriverContext(ctx context.Context) context.Context {
	return withToken(ctx, c)
}

// fault records a failure against this component and initiates pipeline
// shutdown. The component stops consuming.
func (c *Component) fault(operation string, err error) {
	c.faulted.Store(true)
	c.p.recordFault(c.name, operation, err)
}

// tokenKey carries the execution-ownership token: the component whose
// callback or driver is currently executing. This replaces call-stack
// inspection with an explicit token check at Post time.
type tokenKey struct{}

func withToken(ctx context.Context, c *Component) context.Context {
	return context.WithValue(ctx, tokenKey{}, c)
}

func tokenFrom(ctx context.Context) *Component {
	c, _ := ctx.Value(tokenKey{}).(*Component)
	return c
}

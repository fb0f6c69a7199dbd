package pipeline

import (
	"time"

	"github.com/trickstertwo/xclock"
)

// Clock is the pipeline's time source: a physical clock plus a replay
// offset. Virtual time = physical now + offset, so replayed graphs can run
// against historical originating times while queues still age items
// consistently.
type Clock struct {
	inner  xclock.Clock
	offset time.Duration
}

// NewClock wraps a physical clock with a replay offset.
func NewClock(inner xclock.Clock, offset time.Duration) *Clock {
	if inner == nil {
		inner = xclock.Default()
	}
	return &Clock{inner: inner, offset: offset}
}

// SystemClock returns the default wall-clock with no offset.
func SystemClock() *Clock {
	return NewClock(xclock.Default(), 0)
}

// Now returns the current virtual pipeline time.
func (c *Clock) Now() time.Time {
	return c.inner.Now().Add(c.offset)
}

// Since returns the elapsed virtual time since t.
func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Offset returns the replay offset.
func (c *Clock) Offset() time.Duration {
	return c.offset
}

package join

import (
	"fmt"
	"time"
)

// Timed is a buffered secondary observation: a value at its originating time.
type Timed[T any] struct {
	Value T
	Time  time.Time
}

// Kind classifies an interpolation outcome.
type Kind int

const (
	// Pending means no final answer yet: a better candidate may still arrive.
	Pending Kind = iota
	// Matched carries the selected secondary value.
	Matched
	// NoMatch is final: no secondary will ever satisfy this primary.
	NoMatch
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Matched:
		return "matched"
	case NoMatch:
		return "no-match"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is an interpolation outcome. ObsoleteBefore is an eviction
// watermark: once the result is final, buffered secondaries with times
// strictly before it can never serve a later primary.
type Result[T any] struct {
	Kind           Kind
	Value          T
	ObsoleteBefore time.Time
}

// Interpolator selects a secondary value for a primary originating time from
// a window of buffered observations, sorted by ascending time. closed means
// the secondary stream has ended and the window is all there will ever be.
//
// Implementations must be stateless: the same arguments always produce the
// same result. The join re-invokes them as the window grows.
type Interpolator[T any] interface {
	Interpolate(primaryTime time.Time, window []Timed[T], closed bool) Result[T]
	Name() string
}

// Nearest matches the secondary with the smallest time distance within
// ±tolerance. The result stays Pending until no closer candidate can arrive.
// An equidistant pair resolves to the earlier secondary.
func Nearest[T any](tolerance time.Duration) Interpolator[T] {
	return nearest[T]{tolerance: tolerance, bounded: true}
}

// NearestUnbounded is Nearest with an infinite window: some secondary always
// matches unless the stream closes empty.
func NearestUnbounded[T any]() Interpolator[T] {
	return nearest[T]{}
}

type nearest[T any] struct {
	tolerance time.Duration
	bounded   bool
}

func (n nearest[T]) Name() string {
	if n.bounded {
		return fmt.Sprintf("nearest(±%s)", n.tolerance)
	}
	return "nearest"
}

func (n nearest[T]) Interpolate(primaryTime time.Time, window []Timed[T], closed bool) Result[T] {
	bestIdx := -1
	var bestDist time.Duration
	for i, obs := range window {
		d := absDuration(obs.Time.Sub(primaryTime))
		if n.bounded && d > n.tolerance {
			continue
		}
		// Strict < keeps the earlier of an equidistant pair.
		if bestIdx < 0 || d < bestDist {
			bestIdx, bestDist = i, d
		}
	}

	if bestIdx < 0 {
		if closed {
			return Result[T]{Kind: NoMatch, ObsoleteBefore: n.noMatchHorizon(primaryTime)}
		}
		if n.bounded && len(window) > 0 && window[len(window)-1].Time.Sub(primaryTime) > n.tolerance {
			// The secondary stream has moved past the window; monotonicity
			// rules out any future candidate within tolerance.
			return Result[T]{Kind: NoMatch, ObsoleteBefore: n.noMatchHorizon(primaryTime)}
		}
		return Result[T]{Kind: Pending}
	}

	best := window[bestIdx]
	if !closed && bestDist > 0 {
		// A future secondary lands after the window's tail. It beats the
		// current best only if the tail has not yet passed the point where
		// every later arrival is farther away.
		tail := window[len(window)-1].Time
		if tail.Before(primaryTime.Add(bestDist)) {
			return Result[T]{Kind: Pending}
		}
	}
	return Result[T]{Kind: Matched, Value: best.Value, ObsoleteBefore: best.Time}
}

func (n nearest[T]) noMatchHorizon(primaryTime time.Time) time.Time {
	if !n.bounded {
		return time.Time{}
	}
	return primaryTime.Add(-n.tolerance)
}

// LastBefore matches the most recent secondary at or before the primary
// time, with an infinite window. After the secondary stream closes, the
// final known value keeps matching; NoMatch only when no secondary at or
// before the primary time will ever exist.
func LastBefore[T any]() Interpolator[T] {
	return lastBefore[T]{}
}

type lastBefore[T any] struct{}

func (lastBefore[T]) Name() string { return "last-before" }

func (lastBefore[T]) Interpolate(primaryTime time.Time, window []Timed[T], closed bool) Result[T] {
	bestIdx := -1
	for i, obs := range window {
		if obs.Time.After(primaryTime) {
			break
		}
		bestIdx = i
	}

	if bestIdx < 0 {
		if closed || (len(window) > 0 && window[len(window)-1].Time.After(primaryTime)) {
			return Result[T]{Kind: NoMatch}
		}
		return Result[T]{Kind: Pending}
	}

	best := window[bestIdx]
	// Final once a later secondary proves nothing newer can precede the
	// primary, or the stream has ended.
	if closed || window[len(window)-1].Time.After(primaryTime) {
		return Result[T]{Kind: Matched, Value: best.Value, ObsoleteBefore: best.Time}
	}
	return Result[T]{Kind: Pending}
}

// WithDefault wraps an interpolator so NoMatch becomes Matched with a
// substitute value.
func WithDefault[T any](inner Interpolator[T], def T) Interpolator[T] {
	return withDefault[T]{inner: inner, def: def}
}

type withDefault[T any] struct {
	inner Interpolator[T]
	def   T
}

func (w withDefault[T]) Name() string {
	return w.inner.Name() + "+default"
}

func (w withDefault[T]) Interpolate(primaryTime time.Time, window []Timed[T], closed bool) Result[T] {
	res := w.inner.Interpolate(primaryTime, window, closed)
	if res.Kind == NoMatch {
		return Result[T]{Kind: Matched, Value: w.def, ObsoleteBefore: res.ObsoleteBefore}
	}
	return res
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

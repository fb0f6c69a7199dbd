package ops

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/message"
	"github.com/c360/chronoflow/pipeline"
)

// TimedValue is one entry of a replayed timeline.
type TimedValue[T any] struct {
	Value T
	Time  time.Time
}

// GenerateOption configures a Generate source.
type GenerateOption func(*generateOptions)

type generateOptions struct {
	pace *rate.Limiter
}

// WithPace throttles emission through a rate limiter. Without it the source
// runs as fast as downstream backpressure allows.
func WithPace(limiter *rate.Limiter) GenerateOption {
	return func(o *generateOptions) {
		o.pace = limiter
	}
}

// Generate creates a source component driven by next: each call produces the
// next value and its originating time, ok=false ends the stream. The source
// stops on ctx cancellation or pipeline stop and closes its emitter either
// way.
func Generate[T any](p *pipeline.Pipeline, name string,
	next func(ctx context.Context) (T, time.Time, bool),
	opts ...GenerateOption) *pipeline.Emitter[T] {

	var options generateOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	comp := p.AddComponent(name)
	out := pipeline.NewEmitter[T](comp, "out")
	comp.OnStart(func(ctx context.Context) error {
		defer out.Close(ctx)
		for {
			if options.pace != nil {
				if err := options.pace.Wait(ctx); err != nil {
					return nil
				}
			} else if ctx.Err() != nil {
				return nil
			}
			value, ot, ok := next(ctx)
			if !ok {
				return nil
			}
			if err := out.Post(ctx, value, ot); err != nil {
				return err
			}
		}
	})
	return out
}

// FromSlice replays a fixed timeline as fast as the pipeline accepts it.
func FromSlice[T any](p *pipeline.Pipeline, name string, items []TimedValue[T]) *pipeline.Emitter[T] {
	i := 0
	return Generate(p, name, func(ctx context.Context) (T, time.Time, bool) {
		if i >= len(items) {
			var zero T
			return zero, time.Time{}, false
		}
		item := items[i]
		i++
		return item.Value, item.Time, true
	})
}

// Interval emits 0..count-1 every period, with originating times spaced by
// period from the pipeline clock's value at start. count <= 0 runs until
// the pipeline stops.
func Interval(p *pipeline.Pipeline, name string, period time.Duration, count int) *pipeline.Emitter[int] {
	comp := p.AddComponent(name)
	out := pipeline.NewEmitter[int](comp, "out")
	comp.OnStart(func(ctx context.Context) error {
		defer out.Close(ctx)
		origin := p.Clock().Now()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for i := 0; count <= 0 || i < count; i++ {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if err := out.Post(ctx, i, origin.Add(time.Duration(i+1)*period)); err != nil {
				return err
			}
		}
		return nil
	})
	return out
}

// Map transforms each value, preserving originating time so downstream
// joins align with the untransformed stream.
func Map[T, U any](p *pipeline.Pipeline, name string, in *pipeline.Emitter[T],
	fn func(T) U, policy delivery.Policy) *pipeline.Emitter[U] {
	return MapErr(p, name, in, func(v T) (U, error) {
		return fn(v), nil
	}, policy)
}

// MapErr is Map for fallible transforms; an error faults the component.
func MapErr[T, U any](p *pipeline.Pipeline, name string, in *pipeline.Emitter[T],
	fn func(T) (U, error), policy delivery.Policy) *pipeline.Emitter[U] {

	comp := p.AddComponent(name)
	out := pipeline.NewEmitter[U](comp, "out")
	recv := pipeline.NewReceiver(comp, "in",
		func(ctx context.Context, m message.Message[T]) error {
			mapped, err := fn(m.Data)
			if err != nil {
				return err
			}
			return out.Post(ctx, mapped, m.Envelope.OriginatingTime)
		},
		pipeline.WithOnClosed[T](func(ctx context.Context) error {
			return out.Close(ctx)
		}))
	pipeline.MustPipe(in, recv, policy)
	return out
}

// Filter forwards only values satisfying pred, preserving originating time.
func Filter[T any](p *pipeline.Pipeline, name string, in *pipeline.Emitter[T],
	pred func(T) bool, policy delivery.Policy) *pipeline.Emitter[T] {

	comp := p.AddComponent(name)
	out := pipeline.NewEmitter[T](comp, "out")
	recv := pipeline.NewReceiver(comp, "in",
		func(ctx context.Context, m message.Message[T]) error {
			if !pred(m.Data) {
				return nil
			}
			return out.Post(ctx, m.Data, m.Envelope.OriginatingTime)
		},
		pipeline.WithOnClosed[T](func(ctx context.Context) error {
			return out.Close(ctx)
		}))
	pipeline.MustPipe(in, recv, policy)
	return out
}

// Do runs a terminal side effect for every message.
func Do[T any](p *pipeline.Pipeline, name string, in *pipeline.Emitter[T],
	fn func(ctx context.Context, m message.Message[T]) error, policy delivery.Policy) {

	comp := p.AddComponent(name)
	recv := pipeline.NewReceiver(comp, "in", fn)
	pipeline.MustPipe(in, recv, policy)
}

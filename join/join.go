package join

import (
	"context"
	"time"

	"github.com/c360/chronoflow/message"
	"github.com/c360/chronoflow/pipeline"
)

// Pair is the default combine target for two-stream joins.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Join correlates a primary stream with a secondary stream by originating
// time. Primaries resolve strictly in arrival order: the head primary blocks
// later ones until the interpolator reaches a final answer, so output order
// mirrors input order and every output is posted at its primary's
// originating time.
//
// Both receivers and the close hooks run on the join's own synchronization
// domain, so the buffered state needs no lock.
type Join[P, S, O any] struct {
	comp    *pipeline.Component
	interp  Interpolator[S]
	combine func(P, S) O

	primary   *pipeline.Receiver[P]
	secondary *pipeline.Receiver[S]
	out       *pipeline.Emitter[O]

	pending         []Timed[P]
	window          []Timed[S]
	secondaryClosed bool
	primaryClosed   bool
	outClosed       bool
}

// NewJoin creates a join component. Connect upstream emitters to Primary()
// and Secondary(); the correlated output appears on Out().
func NewJoin[P, S, O any](p *pipeline.Pipeline, name string, interp Interpolator[S], combine func(P, S) O) *Join[P, S, O] {
	j := &Join[P, S, O]{
		comp:    p.AddComponent(name),
		interp:  interp,
		combine: combine,
	}
	j.out = pipeline.NewEmitter[O](j.comp, "out")
	j.primary = pipeline.NewReceiver(j.comp, "primary", j.onPrimary,
		pipeline.WithOnClosed[P](j.onPrimaryClosed))
	j.secondary = pipeline.NewReceiver(j.comp, "secondary", j.onSecondary,
		pipeline.WithOnClosed[S](j.onSecondaryClosed))
	return j
}

// Joined is NewJoin specialized to emit Pair values.
func Joined[P, S any](p *pipeline.Pipeline, name string, interp Interpolator[S]) *Join[P, S, Pair[P, S]] {
	return NewJoin(p, name, interp, func(a P, b S) Pair[P, S] {
		return Pair[P, S]{First: a, Second: b}
	})
}

// Primary returns the receiver for the stream that drives output timing.
func (j *Join[P, S, O]) Primary() *pipeline.Receiver[P] {
	return j.primary
}

// Secondary returns the receiver for the stream being sampled.
func (j *Join[P, S, O]) Secondary() *pipeline.Receiver[S] {
	return j.secondary
}

// Out returns the emitter carrying combined values.
func (j *Join[P, S, O]) Out() *pipeline.Emitter[O] {
	return j.out
}

func (j *Join[P, S, O]) onPrimary(ctx context.Context, m message.Message[P]) error {
	j.pending = append(j.pending, Timed[P]{Value: m.Data, Time: m.Envelope.OriginatingTime})
	return j.resolve(ctx)
}

func (j *Join[P, S, O]) onSecondary(ctx context.Context, m message.Message[S]) error {
	j.window = append(j.window, Timed[S]{Value: m.Data, Time: m.Envelope.OriginatingTime})
	return j.resolve(ctx)
}

func (j *Join[P, S, O]) onPrimaryClosed(ctx context.Context) error {
	j.primaryClosed = true
	return j.closeIfDrained(ctx)
}

func (j *Join[P, S, O]) onSecondaryClosed(ctx context.Context) error {
	j.secondaryClosed = true
	if err := j.resolve(ctx); err != nil {
		return err
	}
	return j.closeIfDrained(ctx)
}

// resolve answers pending primaries from the head until the interpolator
// reports Pending, evicting window entries each final answer obsoletes.
func (j *Join[P, S, O]) resolve(ctx context.Context) error {
	for len(j.pending) > 0 {
		head := j.pending[0]
		res := j.interp.Interpolate(head.Time, j.window, j.secondaryClosed)
		if res.Kind == Pending {
			return nil
		}

		j.pending = j.pending[1:]
		j.evict(res.ObsoleteBefore)

		if res.Kind == Matched {
			if err := j.out.Post(ctx, j.combine(head.Value, res.Value), head.Time); err != nil {
				return err
			}
		}
	}
	return j.closeIfDrained(ctx)
}

func (j *Join[P, S, O]) evict(before time.Time) {
	if before.IsZero() {
		return
	}
	cut := 0
	for cut < len(j.window) && j.window[cut].Time.Before(before) {
		cut++
	}
	if cut > 0 {
		j.window = append([]Timed[S]{}, j.window[cut:]...)
	}
}

func (j *Join[P, S, O]) closeIfDrained(ctx context.Context) error {
	if j.outClosed || !j.primaryClosed || len(j.pending) > 0 {
		return nil
	}
	j.outClosed = true
	return j.out.Close(j.comp.DriverContext(ctx))
}

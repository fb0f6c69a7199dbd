package join

import (
	"fmt"
	"time"

	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/pipeline"
)

// Tuple is the flat result of an n-way join: the primary value at index 0
// followed by one value per secondary, in declaration order.
type Tuple[T any] []T

// FoldDirection selects how NWay chains its pairwise joins.
type FoldDirection int

const (
	// FoldLeft accumulates secondaries front to back.
	FoldLeft FoldDirection = iota
	// FoldRight accumulates secondaries back to front.
	FoldRight
)

// NWayOption configures an n-way join.
type NWayOption func(*nwayOptions)

type nwayOptions struct {
	direction FoldDirection
}

// WithFoldDirection sets the chaining order. Both directions produce the
// same position-stable flat tuple; they differ only in which intermediate
// joins exist.
func WithFoldDirection(d FoldDirection) NWayOption {
	return func(o *nwayOptions) {
		o.direction = d
	}
}

// NWay correlates one primary stream with any number of secondaries by
// folding pairwise joins. Output tuples are flat: primary at index 0,
// secondary i at index i+1, regardless of fold direction. The interpolator
// is shared across stages and must be stateless.
func NWay[T any](p *pipeline.Pipeline, name string, interp Interpolator[T],
	primary *pipeline.Emitter[T], secondaries []*pipeline.Emitter[T],
	opts ...NWayOption) (*pipeline.Emitter[Tuple[T]], error) {

	var options nwayOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	// Lift the primary into a single-element tuple.
	lift := NewJoin(p, name+".lift", passthrough[T]{}, func(v T, _ T) Tuple[T] {
		return Tuple[T]{v}
	})
	if err := pipeline.Pipe(primary, lift.Primary(), delivery.Unlimited()); err != nil {
		return nil, err
	}
	if err := pipeline.Pipe(primary, lift.Secondary(), delivery.Unlimited()); err != nil {
		return nil, err
	}

	acc := lift.Out()
	order := make([]int, len(secondaries))
	for i := range order {
		order[i] = i
	}
	if options.direction == FoldRight {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}

	// A fold-left chain appends each secondary after the values already
	// gathered; a fold-right chain prepends it just after the primary.
	// Either way secondary idx lands at tuple index idx+1.
	insertPos := func(t Tuple[T]) int {
		if options.direction == FoldRight {
			return 1
		}
		return len(t)
	}

	for _, idx := range order {
		stage := NewJoin(p, fmt.Sprintf("%s.stage%d", name, idx), interp,
			func(t Tuple[T], s T) Tuple[T] {
				return insertAt(t, insertPos(t), s)
			})
		if err := pipeline.Pipe(acc, stage.Primary(), delivery.Unlimited()); err != nil {
			return nil, err
		}
		if err := pipeline.Pipe(secondaries[idx], stage.Secondary(), delivery.Unlimited()); err != nil {
			return nil, err
		}
		acc = stage.Out()
	}
	return acc, nil
}

func insertAt[T any](t Tuple[T], at int, v T) Tuple[T] {
	out := make(Tuple[T], 0, len(t)+1)
	out = append(out, t[:at]...)
	out = append(out, v)
	out = append(out, t[at:]...)
	return out
}

// passthrough matches a secondary stream that mirrors the primary exactly,
// used to lift the primary into tuple form with zero latency.
type passthrough[T any] struct{}

func (passthrough[T]) Name() string { return "passthrough" }

func (passthrough[T]) Interpolate(primaryTime time.Time, window []Timed[T], closed bool) Result[T] {
	for _, obs := range window {
		if obs.Time.Equal(primaryTime) {
			return Result[T]{Kind: Matched, Value: obs.Value, ObsoleteBefore: obs.Time}
		}
		if obs.Time.After(primaryTime) {
			return Result[T]{Kind: NoMatch}
		}
	}
	if closed {
		return Result[T]{Kind: NoMatch}
	}
	return Result[T]{Kind: Pending}
}

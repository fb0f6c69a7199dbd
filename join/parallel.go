package join

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/message"
	"github.com/c360/chronoflow/pipeline"
)

// ParallelOption configures a keyed parallel operator.
type ParallelOption[R any] func(*parallelOptions[R])

type parallelOptions[R any] struct {
	hasDefault bool
	def        R
}

// WithMissingDefault emits def for a key present in the input whose branch
// produced no result at that originating time. Without it the key is
// omitted from the output map.
func WithMissingDefault[R any](def R) ParallelOption[R] {
	return func(o *parallelOptions[R]) {
		o.hasDefault = true
		o.def = def
	}
}

// Parallel splits a keyed input stream into one substream per key, runs the
// user transform on each, and re-joins per-key results by originating time.
// A substream is instantiated on a key's first appearance; a key absent
// from an input message closes its substream, and closed keys never
// contribute to later outputs.
type Parallel[K comparable, V, R any] struct {
	p         *pipeline.Pipeline
	comp      *pipeline.Component
	name      string
	transform func(K, *pipeline.Emitter[V]) *pipeline.Emitter[R]
	opts      parallelOptions[R]

	in  *pipeline.Receiver[map[K]V]
	out *pipeline.Emitter[map[K]R]

	// state below is touched only on the component's domain
	branches  map[K]*branch[K, V]
	slots     []*gatherSlot[K, R]
	inClosed  bool
	outClosed bool
}

// branch is one per-key substream: a source emitter the splitter posts
// into, plus watermark state from the branch's result stream.
type branch[K comparable, V any] struct {
	key  K
	comp *pipeline.Component
	src  *pipeline.Emitter[V]

	// srcClosed flips synchronously when the splitter ends the substream;
	// closed flips when the branch's result stream has fully drained.
	srcClosed bool
	closed    bool
	lastSeen  time.Time
	hasSeen   bool
}

// gatherSlot accumulates per-key results for one input originating time.
type gatherSlot[K comparable, R any] struct {
	ot       time.Time
	expected []K
	got      map[K]R
}

// NewParallel creates the operator. transform receives a fresh source
// emitter for the key's substream and returns the emitter carrying that
// branch's results; it may build an arbitrary sub-graph in between.
func NewParallel[K comparable, V, R any](p *pipeline.Pipeline, name string,
	transform func(K, *pipeline.Emitter[V]) *pipeline.Emitter[R],
	opts ...ParallelOption[R]) *Parallel[K, V, R] {

	pl := &Parallel[K, V, R]{
		p:         p,
		comp:      p.AddComponent(name),
		name:      name,
		transform: transform,
		branches:  map[K]*branch[K, V]{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&pl.opts)
		}
	}
	pl.out = pipeline.NewEmitter[map[K]R](pl.comp, "out")
	pl.in = pipeline.NewReceiver(pl.comp, "in", pl.onInput,
		pipeline.WithOnClosed[map[K]V](pl.onInputClosed))
	return pl
}

// In returns the receiver for the keyed input stream.
func (pl *Parallel[K, V, R]) In() *pipeline.Receiver[map[K]V] {
	return pl.in
}

// Out returns the emitter carrying re-joined keyed results.
func (pl *Parallel[K, V, R]) Out() *pipeline.Emitter[map[K]R] {
	return pl.out
}

func (pl *Parallel[K, V, R]) onInput(ctx context.Context, m message.Message[map[K]V]) error {
	ot := m.Envelope.OriginatingTime

	// Keys that vanished from the input end their substreams.
	for key, br := range pl.branches {
		if br.srcClosed {
			continue
		}
		if _, present := m.Data[key]; !present {
			if err := pl.closeBranch(ctx, br); err != nil {
				return err
			}
		}
	}

	// A key whose substream already closed never contributes again, not
	// even a default; it is excluded from the slot entirely.
	slot := &gatherSlot[K, R]{ot: ot, got: map[K]R{}}
	pl.slots = append(pl.slots, slot)
	for key, value := range m.Data {
		br, err := pl.ensureBranch(key)
		if err != nil {
			return err
		}
		if br.srcClosed || br.closed {
			continue
		}
		slot.expected = append(slot.expected, key)
		if err := br.src.Post(br.comp.DriverContext(ctx), value, ot); err != nil {
			return err
		}
	}
	return pl.flush(ctx)
}

// ensureBranch instantiates the substream for a key on first sight.
func (pl *Parallel[K, V, R]) ensureBranch(key K) (*branch[K, V], error) {
	if br, ok := pl.branches[key]; ok {
		return br, nil
	}

	comp := pl.p.AddComponent(fmt.Sprintf("%s.branch[%v]", pl.name, key))
	br := &branch[K, V]{key: key, comp: comp}
	br.src = pipeline.NewEmitter[V](comp, "out")
	pl.branches[key] = br

	result := pl.transform(key, br.src)
	k := key
	gather := pipeline.NewReceiver(pl.comp, fmt.Sprintf("gather[%v]", key),
		func(ctx context.Context, m message.Message[R]) error {
			return pl.onResult(ctx, k, m)
		},
		pipeline.WithOnClosed[R](func(ctx context.Context) error {
			br.closed = true
			return pl.flush(ctx)
		}))
	if err := pipeline.Pipe(result, gather, delivery.Unlimited()); err != nil {
		return nil, err
	}
	return br, nil
}

func (pl *Parallel[K, V, R]) onResult(ctx context.Context, key K, m message.Message[R]) error {
	br := pl.branches[key]
	ot := m.Envelope.OriginatingTime
	if !br.hasSeen || ot.After(br.lastSeen) {
		br.lastSeen = ot
		br.hasSeen = true
	}
	for _, slot := range pl.slots {
		if slot.ot.Equal(ot) {
			slot.got[key] = m.Data
			break
		}
	}
	return pl.flush(ctx)
}

func (pl *Parallel[K, V, R]) closeBranch(ctx context.Context, br *branch[K, V]) error {
	br.srcClosed = true
	return br.src.Close(br.comp.DriverContext(ctx))
}

func (pl *Parallel[K, V, R]) onInputClosed(ctx context.Context) error {
	pl.inClosed = true
	for _, br := range pl.branches {
		if !br.srcClosed {
			if err := pl.closeBranch(ctx, br); err != nil {
				return err
			}
		}
	}
	return pl.flush(ctx)
}

// flush emits gathered slots from the head while each is settled: every
// expected key has produced a result, or its branch provably never will at
// that time (watermark passed or branch closed).
func (pl *Parallel[K, V, R]) flush(ctx context.Context) error {
	for len(pl.slots) > 0 {
		slot := pl.slots[0]
		if !pl.settled(slot) {
			break
		}
		pl.slots = pl.slots[1:]

		outMap := map[K]R{}
		for _, key := range slot.expected {
			if v, ok := slot.got[key]; ok {
				outMap[key] = v
			} else if pl.opts.hasDefault {
				outMap[key] = pl.opts.def
			}
		}
		if err := pl.out.Post(pl.comp.DriverContext(ctx), outMap, slot.ot); err != nil {
			return err
		}
	}

	if pl.inClosed && len(pl.slots) == 0 && !pl.outClosed {
		pl.outClosed = true
		return pl.out.Close(pl.comp.DriverContext(ctx))
	}
	return nil
}

func (pl *Parallel[K, V, R]) settled(slot *gatherSlot[K, R]) bool {
	for _, key := range slot.expected {
		if _, ok := slot.got[key]; ok {
			continue
		}
		br := pl.branches[key]
		if br.closed {
			continue
		}
		if br.hasSeen && br.lastSeen.After(slot.ot) {
			continue
		}
		return false
	}
	return true
}

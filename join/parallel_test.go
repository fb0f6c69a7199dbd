package join

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/ops"
	"github.com/c360/chronoflow/pipeline"
)

func keyedInput(frames []map[string]int) []ops.TimedValue[map[string]int] {
	items := make([]ops.TimedValue[map[string]int], len(frames))
	for i, f := range frames {
		items[i] = ops.TimedValue[map[string]int]{Value: f, Time: at(i * 10)}
	}
	return items
}

func TestParallelTransformsPerKey(t *testing.T) {
	p := pipeline.New("test")
	src := ops.FromSlice(p, "src", keyedInput([]map[string]int{
		{"a": 1, "b": 10},
		{"a": 2, "b": 20},
		{"a": 3, "b": 30},
	}))

	par := NewParallel(p, "par",
		func(key string, in *pipeline.Emitter[int]) *pipeline.Emitter[int] {
			return ops.Map(p, "par.double."+key, in,
				func(v int) int { return v * 2 }, delivery.Unlimited())
		})
	pipeline.MustPipe(src, par.In(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", par.Out(), delivery.Unlimited())

	runJoin(t, p)

	want := []map[string]int{
		{"a": 2, "b": 20},
		{"a": 4, "b": 40},
		{"a": 6, "b": 60},
	}
	assert.Equal(t, want, sink.Values())
	for i, m := range sink.Messages() {
		assert.True(t, m.Envelope.OriginatingTime.Equal(at(i*10)),
			"output must carry the input's originating time")
	}
}

func TestParallelNewKeyMidStream(t *testing.T) {
	p := pipeline.New("test")
	src := ops.FromSlice(p, "src", keyedInput([]map[string]int{
		{"a": 1},
		{"a": 2, "b": 10},
	}))

	par := NewParallel(p, "par",
		func(key string, in *pipeline.Emitter[int]) *pipeline.Emitter[int] {
			return ops.Map(p, "par.id."+key, in,
				func(v int) int { return v }, delivery.Unlimited())
		})
	pipeline.MustPipe(src, par.In(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", par.Out(), delivery.Unlimited())

	runJoin(t, p)
	assert.Equal(t, []map[string]int{
		{"a": 1},
		{"a": 2, "b": 10},
	}, sink.Values())
}

func TestParallelAbsentKeyClosesBranch(t *testing.T) {
	p := pipeline.New("test")
	src := ops.FromSlice(p, "src", keyedInput([]map[string]int{
		{"a": 1, "b": 10},
		{"a": 2}, // b vanishes: its substream closes
		{"a": 3, "b": 99},
	}))

	par := NewParallel(p, "par",
		func(key string, in *pipeline.Emitter[int]) *pipeline.Emitter[int] {
			return ops.Map(p, "par.id."+key, in,
				func(v int) int { return v }, delivery.Unlimited())
		},
		WithMissingDefault(-1))
	pipeline.MustPipe(src, par.In(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", par.Out(), delivery.Unlimited())

	runJoin(t, p)
	assert.Equal(t, []map[string]int{
		{"a": 1, "b": 10},
		{"a": 2},
		{"a": 3}, // closed key contributes nothing, not even a default
	}, sink.Values())
}

func TestParallelMissingDefault(t *testing.T) {
	p := pipeline.New("test")
	src := ops.FromSlice(p, "src", keyedInput([]map[string]int{
		{"a": 1, "b": 2},
		{"a": 3, "b": 4},
		{"a": 5, "b": 6},
	}))

	// Branch b filters out everything: with a default its key survives,
	// holes filled by -1.
	par := NewParallel(p, "par",
		func(key string, in *pipeline.Emitter[int]) *pipeline.Emitter[int] {
			if strings.HasPrefix(key, "b") {
				return ops.Filter(p, "par.none."+key, in,
					func(int) bool { return false }, delivery.Unlimited())
			}
			return ops.Map(p, "par.id."+key, in,
				func(v int) int { return v }, delivery.Unlimited())
		},
		WithMissingDefault(-1))
	pipeline.MustPipe(src, par.In(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", par.Out(), delivery.Unlimited())

	runJoin(t, p)
	assert.Equal(t, []map[string]int{
		{"a": 1, "b": -1},
		{"a": 3, "b": -1},
		{"a": 5, "b": -1},
	}, sink.Values())
}

func TestParallelOmitsKeyWithoutDefault(t *testing.T) {
	p := pipeline.New("test")
	src := ops.FromSlice(p, "src", keyedInput([]map[string]int{
		{"a": 1, "b": 2},
		{"a": 3, "b": 4},
	}))

	par := NewParallel(p, "par",
		func(key string, in *pipeline.Emitter[int]) *pipeline.Emitter[int] {
			if key == "b" {
				return ops.Filter(p, "par.none."+key, in,
					func(int) bool { return false }, delivery.Unlimited())
			}
			return ops.Map(p, "par.id."+key, in,
				func(v int) int { return v }, delivery.Unlimited())
		})
	pipeline.MustPipe(src, par.In(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", par.Out(), delivery.Unlimited())

	runJoin(t, p)
	require.Len(t, sink.Values(), 2)
	for _, frame := range sink.Values() {
		_, hasB := frame["b"]
		assert.False(t, hasB, "keys without results are omitted when no default is set")
	}
}

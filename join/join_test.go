package join

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/ops"
	"github.com/c360/chronoflow/pipeline"
)

func timedInts(values []int, times []int) []ops.TimedValue[int] {
	items := make([]ops.TimedValue[int], len(values))
	for i, v := range values {
		items[i] = ops.TimedValue[int]{Value: v, Time: at(times[i])}
	}
	return items
}

func everyN(start, step, count int) []ops.TimedValue[int] {
	items := make([]ops.TimedValue[int], count)
	for i := range items {
		ms := start + i*step
		items[i] = ops.TimedValue[int]{Value: ms, Time: at(ms)}
	}
	return items
}

func runJoin(t *testing.T, p *pipeline.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Wait(ctx))
}

func TestNearestJoinAlignment(t *testing.T) {
	// Primary every 10ms, secondary every 20ms: equidistant primaries
	// resolve to the earlier secondary.
	p := pipeline.New("test")
	primary := ops.FromSlice(p, "primary", everyN(0, 10, 10))
	secondary := ops.FromSlice(p, "secondary", everyN(0, 20, 5))

	j := Joined[int, int](p, "join", NearestUnbounded[int]())
	pipeline.MustPipe(primary, j.Primary(), delivery.Unlimited())
	pipeline.MustPipe(secondary, j.Secondary(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", j.Out(), delivery.Unlimited())

	runJoin(t, p)

	want := []Pair[int, int]{
		{0, 0}, {10, 0}, {20, 20}, {30, 20}, {40, 40},
		{50, 40}, {60, 60}, {70, 60}, {80, 80}, {90, 80},
	}
	assert.Equal(t, want, sink.Values())

	// Outputs carry the primary's originating time, in primary order.
	for i, m := range sink.Messages() {
		assert.True(t, m.Envelope.OriginatingTime.Equal(at(i*10)))
	}
}

func TestJoinToleranceDropsUnmatched(t *testing.T) {
	p := pipeline.New("test")
	primary := ops.FromSlice(p, "primary", everyN(0, 10, 10))
	// One secondary burst near 40ms; everything else is out of range.
	secondary := ops.FromSlice(p, "secondary", timedInts([]int{41}, []int{41}))

	j := Joined[int, int](p, "join", Nearest[int](5*time.Millisecond))
	pipeline.MustPipe(primary, j.Primary(), delivery.Unlimited())
	pipeline.MustPipe(secondary, j.Secondary(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", j.Out(), delivery.Unlimited())

	runJoin(t, p)
	assert.Equal(t, []Pair[int, int]{{40, 41}}, sink.Values())
}

func TestJoinWithDefaultFillsGaps(t *testing.T) {
	p := pipeline.New("test")
	primary := ops.FromSlice(p, "primary", everyN(0, 10, 5))
	secondary := ops.FromSlice(p, "secondary", timedInts([]int{20}, []int{20}))

	j := Joined[int, int](p, "join",
		WithDefault[int](Nearest[int](5*time.Millisecond), -1))
	pipeline.MustPipe(primary, j.Primary(), delivery.Unlimited())
	pipeline.MustPipe(secondary, j.Secondary(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", j.Out(), delivery.Unlimited())

	runJoin(t, p)
	assert.Equal(t, []Pair[int, int]{
		{0, -1}, {10, -1}, {20, 20}, {30, -1}, {40, -1},
	}, sink.Values())
}

func TestJoinEmptySecondaryNoOutput(t *testing.T) {
	p := pipeline.New("test")
	primary := ops.FromSlice(p, "primary", everyN(0, 10, 5))
	secondary := ops.FromSlice(p, "secondary", []ops.TimedValue[int]{})

	j := Joined[int, int](p, "join", NearestUnbounded[int]())
	pipeline.MustPipe(primary, j.Primary(), delivery.Unlimited())
	pipeline.MustPipe(secondary, j.Secondary(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", j.Out(), delivery.Unlimited())

	runJoin(t, p)
	assert.Empty(t, sink.Values())
	assert.True(t, sink.Closed(), "join output must still close")
}

func TestLastBeforeJoin(t *testing.T) {
	p := pipeline.New("test")
	primary := ops.FromSlice(p, "primary", everyN(5, 10, 5)) // 5,15,25,35,45
	secondary := ops.FromSlice(p, "secondary", everyN(0, 20, 2))

	j := Joined[int, int](p, "join", LastBefore[int]())
	pipeline.MustPipe(primary, j.Primary(), delivery.Unlimited())
	pipeline.MustPipe(secondary, j.Secondary(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", j.Out(), delivery.Unlimited())

	runJoin(t, p)
	// Secondaries at 0 and 20; after close the final value keeps matching.
	assert.Equal(t, []Pair[int, int]{
		{5, 0}, {15, 0}, {25, 20}, {35, 20}, {45, 20},
	}, sink.Values())
}

func TestJoinSimultaneousTimesMatch(t *testing.T) {
	p := pipeline.New("test")
	primary := ops.FromSlice(p, "primary", timedInts([]int{1, 2}, []int{100, 200}))
	secondary := ops.FromSlice(p, "secondary", timedInts([]int{10, 20}, []int{100, 200}))

	j := Joined[int, int](p, "join", Nearest[int](0))
	pipeline.MustPipe(primary, j.Primary(), delivery.Unlimited())
	pipeline.MustPipe(secondary, j.Secondary(), delivery.Unlimited())
	sink := ops.Collect(p, "sink", j.Out(), delivery.Unlimited())

	runJoin(t, p)
	assert.Equal(t, []Pair[int, int]{{1, 10}, {2, 20}}, sink.Values())
}

func TestNWayFoldDirectionsAgree(t *testing.T) {
	const ways = 6 // primary + 6 secondaries = 7 streams

	build := func(direction FoldDirection) []Tuple[int] {
		p := pipeline.New("test")
		primary := ops.FromSlice(p, "primary", everyN(0, 10, 8))
		secondaries := make([]*pipeline.Emitter[int], ways)
		for i := range secondaries {
			items := everyN(0, 10, 8)
			for k := range items {
				items[k].Value = (i + 1) * 1000 // tag stream identity
			}
			secondaries[i] = ops.FromSlice(p, "secondary"+string(rune('a'+i)), items)
		}

		out, err := NWay(p, "nway", NearestUnbounded[int](), primary, secondaries,
			WithFoldDirection(direction))
		require.NoError(t, err)
		sink := ops.Collect(p, "sink", out, delivery.Unlimited())
		runJoin(t, p)
		return sink.Values()
	}

	left := build(FoldLeft)
	right := build(FoldRight)

	require.Len(t, left, 8)
	for _, tuple := range left {
		require.Len(t, tuple, ways+1, "tuples must be flat")
		for i := 1; i <= ways; i++ {
			assert.Equal(t, i*1000, tuple[i], "secondary %d must sit at index %d", i-1, i)
		}
	}
	assert.Equal(t, left, right, "fold directions must produce identical tuples")
}

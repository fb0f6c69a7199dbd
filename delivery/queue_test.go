package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/chronoflow/errors"
)

func TestPolicyPresets(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		check  func(t *testing.T, p Policy)
	}{
		{"unlimited", Unlimited(), func(t *testing.T, p Policy) {
			assert.LessOrEqual(t, p.MaximumQueueSize, 0)
			assert.False(t, p.ThrottleWhenFull)
			assert.False(t, p.Synchronous)
		}},
		{"latest", LatestMessage(), func(t *testing.T, p Policy) {
			assert.Equal(t, 1, p.MaximumQueueSize)
			assert.False(t, p.ThrottleWhenFull)
		}},
		{"throttled", Throttled(4), func(t *testing.T, p Policy) {
			assert.Equal(t, 4, p.MaximumQueueSize)
			assert.True(t, p.ThrottleWhenFull)
		}},
		{"synchronous", Synchronous(), func(t *testing.T, p Policy) {
			assert.True(t, p.Synchronous)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.policy.Validate())
			tt.check(t, tt.policy)
		})
	}
}

func TestPolicyValidateRejectsContradictions(t *testing.T) {
	bad := Policy{Synchronous: true, MaximumQueueSize: 3}
	assert.Error(t, bad.Validate())

	bad = Policy{ThrottleWhenFull: true}
	assert.Error(t, bad.Validate())

	bad = Policy{InitialQueueSize: 10, MaximumQueueSize: 5}
	assert.Error(t, bad.Validate())
}

func TestNewQueueRejectsSynchronous(t *testing.T) {
	_, err := NewQueue[int](Synchronous())
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err))
}

func TestUnlimitedFIFOAndGrowth(t *testing.T) {
	q, err := NewQueue[int](Policy{Name: "unlimited", InitialQueueSize: 2})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Enqueue(ctx, i, now.Add(time.Duration(i))))
	}
	assert.Equal(t, 100, q.Len())

	for i := 0; i < 100; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v, "FIFO order must be preserved through growth")
	}

	_, ok := q.Dequeue()
	assert.False(t, ok)

	c := q.Counters()
	assert.Equal(t, int64(100), c.Enqueued)
	assert.Equal(t, int64(100), c.Delivered)
	assert.Equal(t, int64(0), c.Dropped)
}

func TestLatestMessageReplacement(t *testing.T) {
	var dropped []int
	q, err := NewQueue[int](LatestMessage(), WithDropHandler[int](func(v int) {
		dropped = append(dropped, v)
	}))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Enqueue(ctx, i, now))
	}

	assert.Equal(t, 1, q.Len())
	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 5, v, "only the newest unconsumed item survives")
	assert.Equal(t, []int{1, 2, 3, 4}, dropped)

	c := q.Counters()
	assert.Equal(t, int64(4), c.Dropped)
}

func TestThrottledBlocksProducerUntilDrain(t *testing.T) {
	q, err := NewQueue[int](Throttled(2))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, 1, now))
	require.NoError(t, q.Enqueue(ctx, 2, now))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Enqueue(ctx, 3, now)
	}()

	select {
	case <-unblocked:
		t.Fatal("enqueue must block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.Dequeue()
	require.True(t, ok)

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not resume after drain")
	}

	assert.GreaterOrEqual(t, q.Counters().ThrottleWaits, int64(1))
}

func TestThrottledEnqueueHonorsContext(t *testing.T) {
	q, err := NewQueue[int](Throttled(1))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, q.Enqueue(context.Background(), 1, now))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = q.Enqueue(ctx, 2, now)
	require.Error(t, err)
	assert.True(t, cerrors.IsTransient(err))
	assert.Equal(t, 1, q.Len())
}

func TestLagConstraintEvictsStaleItems(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	policy := Unlimited().WithLagConstraint(100 * time.Millisecond)
	q, err := NewQueue[int](policy, WithNowFunc[int](clock))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, 1, current.Add(-50*time.Millisecond)))
	require.NoError(t, q.Enqueue(ctx, 2, current))

	// Advancing the clock past the first item's freshness window means the
	// next enqueue evicts it.
	current = current.Add(60 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, 3, current))

	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, v, "stale head must have been evicted")

	assert.GreaterOrEqual(t, q.Counters().Dropped, int64(1))
}

func TestCustomBoundedDropsOldest(t *testing.T) {
	policy := Policy{Name: "bounded", InitialQueueSize: 3, MaximumQueueSize: 3}
	q, err := NewQueue[int](policy)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Enqueue(ctx, i, now))
	}

	var got []int
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)
}

func TestBoundedGrowthStopsAtMaximum(t *testing.T) {
	// The ring starts below the bound and grows through it; the allocation
	// must land exactly on MaximumQueueSize, not the next doubling.
	policy := Policy{Name: "bounded", InitialQueueSize: 2, MaximumQueueSize: 5}
	q, err := NewQueue[int](policy)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	for i := 1; i <= 7; i++ {
		require.NoError(t, q.Enqueue(ctx, i, now))
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 5, q.Cap())

	var got []int
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5, 6, 7}, got)
}

func TestClearDiscardsAndCounts(t *testing.T) {
	q, err := NewQueue[int](Unlimited())
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 7; i++ {
		require.NoError(t, q.Enqueue(ctx, i, now))
	}

	assert.Equal(t, 7, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, int64(7), q.Counters().Dropped)
}

func TestCloseStopsEnqueueWakesThrottled(t *testing.T) {
	q, err := NewQueue[int](Throttled(1))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, 1, now))

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(ctx, 2, now)
	}()
	time.Sleep(20 * time.Millisecond)

	q.Close()

	select {
	case err := <-blocked:
		require.Error(t, err)
		assert.ErrorIs(t, err, cerrors.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not wake throttled producer")
	}

	// Retained items stay readable after close.
	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	err = q.Enqueue(ctx, 3, now)
	assert.ErrorIs(t, err, cerrors.ErrQueueClosed)
}

func TestReadySignalFiresPerEnqueue(t *testing.T) {
	var mu sync.Mutex
	signals := 0

	q, err := NewQueue[int](Unlimited(), WithReadySignal[int](func() {
		mu.Lock()
		signals++
		mu.Unlock()
	}))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, i, now))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, signals)
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	q, err := NewQueue[int](Unlimited())
	require.NoError(t, err)

	const producers = 4
	const perProducer = 250

	var wg sync.WaitGroup
	ctx := context.Background()
	now := time.Now()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.Enqueue(ctx, i, now))
			}
		}()
	}
	wg.Wait()

	seen := 0
	for {
		_, ok := q.Dequeue()
		if !ok {
			break
		}
		seen++
	}
	assert.Equal(t, producers*perProducer, seen)
}

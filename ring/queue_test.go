package ring

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadCapacity(t *testing.T) {
	for _, c := range []int{0, -4, 3, 6, 100} {
		_, err := New[int](Config{Capacity: c})
		assert.ErrorIs(t, err, ErrCapacityNotPowerOfTwo, "capacity %d", c)
	}

	q, err := New[int](Config{Capacity: 16})
	require.NoError(t, err)
	assert.Equal(t, int64(16), q.Capacity())
}

func TestQueue_ClaimPublishGet(t *testing.T) {
	q, err := New[string](Config{Capacity: 4})
	require.NoError(t, err)

	seq, err := q.Claim()
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
	assert.False(t, q.IsPublished(seq))

	*q.Get(seq) = "hello"
	q.Publish(seq)

	assert.True(t, q.IsPublished(seq))
	assert.Equal(t, "hello", *q.Get(seq))
	// Same slot one lap later is not published yet
	assert.False(t, q.IsPublished(seq+4))
}

func TestQueue_Backpressure(t *testing.T) {
	q, err := New[int](Config{Capacity: 4})
	require.NoError(t, err)

	consumer := NewSequence(InitialSequence)
	q.AddGatingSequences(consumer)

	for i := 0; i < 4; i++ {
		seq, err := q.TryClaim()
		require.NoError(t, err)
		q.Publish(seq)
	}

	_, err = q.TryClaim()
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, int64(4), q.Depth())
	assert.Equal(t, int64(0), q.RemainingCapacity())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.ClaimContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(3), q.Cursor(), "cancelled claim must not consume a sequence")

	claimed := make(chan int64, 1)
	go func() {
		seq, err := q.Claim()
		if err == nil {
			claimed <- seq
		}
	}()

	select {
	case <-claimed:
		t.Fatal("claim should block while the ring is full")
	case <-time.After(20 * time.Millisecond):
	}

	consumer.Set(0)
	q.Release()

	select {
	case seq := <-claimed:
		assert.Equal(t, int64(4), seq)
	case <-time.After(time.Second):
		t.Fatal("claim did not resume after consumer progressed")
	}
	assert.GreaterOrEqual(t, q.BackpressureCount(), int64(2))
}

func TestQueue_Close(t *testing.T) {
	q, err := New[int](Config{Capacity: 8})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := q.Claim()
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), q.Close())
	assert.True(t, q.Closed())
	assert.Equal(t, int64(2), q.Close())
	assert.Equal(t, int64(2), q.Cursor())

	_, err = q.Claim()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.TryClaim()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_CloseWakesBlockedProducer(t *testing.T) {
	q, err := New[int](Config{Capacity: 2})
	require.NoError(t, err)
	q.AddGatingSequences(NewSequence(InitialSequence))

	_, _ = q.Claim()
	_, _ = q.Claim()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Claim()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked producer not released by Close")
	}
}

func TestQueue_SingleProducerMode(t *testing.T) {
	q, err := New[int](Config{Capacity: 4, Producer: SingleProducer})
	require.NoError(t, err)

	for i := int64(0); i < 10; i++ {
		seq, err := q.Claim()
		require.NoError(t, err)
		assert.Equal(t, i, seq)
		q.Publish(seq)
	}
	assert.Equal(t, SingleProducer, ParseProducerMode("single"))
	assert.Equal(t, MultiProducer, ParseProducerMode("multi"))
}

func runIntegrity(t *testing.T, wait WaitStrategy) {
	const producers = 8
	const perProducer = 1000
	const total = producers * perProducer

	q, err := New[int64](Config{Capacity: 64, Wait: wait})
	require.NoError(t, err)

	consumed := NewSequence(InitialSequence)
	q.AddGatingSequences(consumed)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				seq, err := q.Claim()
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				*q.Get(seq) = int64(p*perProducer + i)
				q.Publish(seq)
			}
		}(p)
	}

	seen := make([]bool, total)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for next := int64(0); next < total; next++ {
		err := wait.WaitUntil(ctx, func() bool { return q.IsPublished(next) })
		require.NoError(t, err)

		v := *q.Get(next)
		require.False(t, seen[v], "value %d delivered twice", v)
		seen[v] = true

		consumed.Set(next)
		q.Release()
	}
	wg.Wait()

	for i, ok := range seen {
		require.True(t, ok, "value %d lost", i)
	}
}

func TestQueue_MultiProducerIntegrity_Blocking(t *testing.T) {
	runIntegrity(t, NewBlockingWait())
}

func TestQueue_MultiProducerIntegrity_Yielding(t *testing.T) {
	runIntegrity(t, &YieldingWait{})
}

func TestNewWaitStrategy(t *testing.T) {
	_, ok := NewWaitStrategy("yielding").(*YieldingWait)
	assert.True(t, ok)
	_, ok = NewWaitStrategy("blocking").(*BlockingWait)
	assert.True(t, ok)
}

func TestBlockingWait_ContextCancel(t *testing.T) {
	w := NewBlockingWait()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := w.WaitUntil(ctx, func() bool { return false })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_FreshQueueAcceptsClaims(t *testing.T) {
	q, err := New[int](Config{Capacity: 8})
	require.NoError(t, err)

	assert.False(t, q.Closed())
	assert.Equal(t, InitialSequence, q.Cursor())

	seq, err := q.TryClaim()
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	seq, err = q.ClaimContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, int64(1), q.Cursor())
}

func TestQueue_CloseOnFreshQueue(t *testing.T) {
	q, err := New[int](Config{Capacity: 8})
	require.NoError(t, err)

	assert.Equal(t, InitialSequence, q.Close())
	assert.True(t, q.Closed())
	assert.Equal(t, InitialSequence, q.Cursor())
}

func TestQueue_PublishDoesNotAllocateWithParkedConsumer(t *testing.T) {
	q, err := New[int](Config{Capacity: 1024})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	parked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(parked)
		_ = q.WaitStrategy().WaitUntil(ctx, func() bool { return false })
	}()
	<-parked
	time.Sleep(10 * time.Millisecond)

	allocs := testing.AllocsPerRun(1000, func() {
		seq, err := q.TryClaim()
		if err != nil {
			t.Fatal(err)
		}
		*q.Get(seq) = int(seq)
		q.Publish(seq)
	})
	assert.Equal(t, float64(0), allocs)

	cancel()
	<-done
}

func TestYieldingWait_BacksOffUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := YieldingWait{}.WaitUntil(ctx, func() bool { return false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBlockingWait_SignalWakesEveryWaiter(t *testing.T) {
	w := NewBlockingWait()
	var ready atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.WaitUntil(context.Background(), ready.Load))
		}()
	}

	time.Sleep(10 * time.Millisecond)
	ready.Store(true)
	w.Signal()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("waiters not released by Signal")
	}
	assert.Equal(t, int32(0), w.parked.Load())
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/engage/event"
	"github.com/maxpert/engage/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	errs   []error
	failed atomic.Int64
}

func (s *recordingSink) HandleEventException(err error, seq int64, ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
	s.failed.Add(1)
}

type processedCounter struct {
	n atomic.Int64
}

func (c *processedCounter) RecordProcessed(t event.Type, took time.Duration) {
	c.n.Add(1)
}

func newQueue(t *testing.T, capacity int, wait string) *ring.Queue[event.Event] {
	q, err := ring.New[event.Event](ring.Config{Capacity: capacity, Wait: ring.NewWaitStrategy(wait)})
	require.NoError(t, err)
	return q
}

func publish(t *testing.T, q *ring.Queue[event.Event], ty event.Type, payload any) {
	seq, err := q.Claim()
	require.NoError(t, err)
	slot := q.Get(seq)
	slot.Type = ty
	slot.Payload = payload
	q.Publish(seq)
}

func runWorkPool(t *testing.T, wait string) {
	const producers = 10
	const perProducer = 100
	const total = producers * perProducer

	q := newQueue(t, 64, wait)

	var mu sync.Mutex
	seen := make(map[int]int)
	h := NewHandlerFunc("collect", func(ctx context.Context, ev *event.Event) error {
		mu.Lock()
		seen[ev.Payload.(int)]++
		mu.Unlock()
		return nil
	}, event.Like)

	counter := &processedCounter{}
	pool := NewPool(PoolConfig{
		Workers:   4,
		Queue:     q,
		Router:    NewRouter(Registration{Handler: h}),
		Processed: counter,
	})
	require.NoError(t, pool.Start())

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
				slot := q.Get(seq)
				slot.Type = event.Like
				slot.Payload = p*perProducer + i
				q.Publish(seq)
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	assert.Len(t, seen, total)
	for v, n := range seen {
		require.Equal(t, 1, n, "value %d handled %d times", v, n)
	}
	assert.Equal(t, int64(total), counter.n.Load())
	assert.Equal(t, int64(0), pool.Discarded())
}

func TestPool_EachEventOnce_Blocking(t *testing.T) {
	runWorkPool(t, "blocking")
}

func TestPool_EachEventOnce_Yielding(t *testing.T) {
	runWorkPool(t, "yielding")
}

func TestPool_FailuresDoNotKillWorkers(t *testing.T) {
	q := newQueue(t, 16, "blocking")
	sink := &recordingSink{}
	var handled atomic.Int64

	h := NewHandlerFunc("flaky", func(ctx context.Context, ev *event.Event) error {
		switch ev.Payload.(int) % 3 {
		case 0:
			panic("kaboom")
		case 1:
			return errors.New("bad event")
		}
		handled.Add(1)
		return nil
	}, event.Follow)

	pool := NewPool(PoolConfig{
		Workers: 2,
		Queue:   q,
		Router:  NewRouter(Registration{Handler: h}),
		Sink:    sink,
	})
	require.NoError(t, pool.Start())

	for i := 0; i < 30; i++ {
		publish(t, q, event.Follow, i)
	}

	require.NoError(t, pool.Stop(context.Background()))

	assert.Equal(t, int64(10), handled.Load())
	assert.Equal(t, int64(20), sink.failed.Load())

	var panics, handlerErrs int
	for _, err := range sink.errs {
		var pe *PanicError
		var he *HandlerError
		switch {
		case errors.As(err, &pe):
			panics++
		case errors.As(err, &he):
			handlerErrs++
		}
	}
	assert.Equal(t, 10, panics)
	assert.Equal(t, 10, handlerErrs)
}

func TestPool_StopDrainsClaimedEvents(t *testing.T) {
	q := newQueue(t, 8, "blocking")
	var handled atomic.Int64
	release := make(chan struct{})

	h := NewHandlerFunc("slow", func(ctx context.Context, ev *event.Event) error {
		<-release
		handled.Add(1)
		return nil
	}, event.Like)

	pool := NewPool(PoolConfig{Workers: 1, Queue: q, Router: NewRouter(Registration{Handler: h})})
	require.NoError(t, pool.Start())

	for i := 0; i < 5; i++ {
		publish(t, q, event.Like, i)
	}

	stopErr := make(chan error, 1)
	go func() { stopErr <- pool.Stop(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	_, err := q.TryClaim()
	assert.ErrorIs(t, err, ring.ErrClosed, "stop must refuse new claims immediately")

	close(release)
	require.NoError(t, <-stopErr)
	assert.Equal(t, int64(5), handled.Load())
	assert.False(t, pool.Running())
}

func TestPool_StopTimeoutDiscardsUnpublished(t *testing.T) {
	q := newQueue(t, 8, "blocking")
	var handled atomic.Int64
	h := countingHandler("count", &handled, event.Like)

	pool := NewPool(PoolConfig{Workers: 2, Queue: q, Router: NewRouter(Registration{Handler: h})})
	require.NoError(t, pool.Start())

	publish(t, q, event.Like, 1)
	_, err := q.Claim() // claimed and never published
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = pool.Stop(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), handled.Load())
	assert.GreaterOrEqual(t, pool.Discarded(), int64(1))
}

func TestPool_Lifecycle(t *testing.T) {
	q := newQueue(t, 4, "blocking")
	pool := NewPool(PoolConfig{Queue: q, Router: NewRouter()})

	require.NoError(t, pool.Start())
	assert.ErrorIs(t, pool.Start(), ErrPoolRunning)
	require.NoError(t, pool.Stop(context.Background()))
	require.NoError(t, pool.Stop(context.Background()))
	assert.ErrorIs(t, pool.Start(), ErrPoolStopped)
}

func TestLoggingSink_RecordsFailure(t *testing.T) {
	rec := &failureCounter{}
	sink := NewLoggingSink(rec)

	sink.HandleEventException(errors.New("x"), 3, &event.Event{Type: event.Unlike})
	sink.HandleEventException(newPanicError("y"), 4, &event.Event{Type: event.Unlike})

	assert.Equal(t, 2, rec.counts[event.Unlike])
}

type failureCounter struct {
	counts map[event.Type]int
}

func (f *failureCounter) RecordFailed(t event.Type) {
	if f.counts == nil {
		f.counts = make(map[event.Type]int)
	}
	f.counts[t]++
}

package ring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// WaitStrategy parks a goroutine until a condition becomes true. Signal is
// called by whoever may have made some waiter's condition true.
type WaitStrategy interface {
	WaitUntil(ctx context.Context, cond func() bool) error
	Signal()
}

// NewWaitStrategy maps a configuration name to a strategy. Unknown names fall back to blocking.
func NewWaitStrategy(name string) WaitStrategy {
	if name == "yielding" {
		return &YieldingWait{}
	}
	return NewBlockingWait()
}

// BlockingWait parks each waiter on its own reusable one-slot channel.
// Signal is a single atomic load when nobody is waiting and never
// allocates.
type BlockingWait struct {
	mu      sync.Mutex
	waiters []*waiter
	parked  atomic.Int32
}

type waiter struct {
	ch chan struct{}
}

var waiterPool = sync.Pool{
	New: func() any {
		return &waiter{ch: make(chan struct{}, 1)}
	},
}

func NewBlockingWait() *BlockingWait {
	return &BlockingWait{}
}

func (b *BlockingWait) WaitUntil(ctx context.Context, cond func() bool) error {
	for {
		if cond() {
			return nil
		}

		w := waiterPool.Get().(*waiter)
		b.mu.Lock()
		b.waiters = append(b.waiters, w)
		b.parked.Add(1)
		b.mu.Unlock()

		// Re-check after registering so a Signal that raced the first check is not lost
		if cond() {
			b.release(w)
			return nil
		}

		select {
		case <-w.ch:
			b.release(w)
		case <-ctx.Done():
			b.release(w)
			return ctx.Err()
		}
	}
}

// release unregisters w if Signal has not already done so, drains a
// pending wake-up and returns w to the pool.
func (b *BlockingWait) release(w *waiter) {
	b.mu.Lock()
	for i, o := range b.waiters {
		if o == w {
			last := len(b.waiters) - 1
			b.waiters[i] = b.waiters[last]
			b.waiters[last] = nil
			b.waiters = b.waiters[:last]
			b.parked.Add(-1)
			break
		}
	}
	b.mu.Unlock()

	select {
	case <-w.ch:
	default:
	}
	waiterPool.Put(w)
}

func (b *BlockingWait) Signal() {
	if b.parked.Load() == 0 {
		return
	}
	b.mu.Lock()
	for i, w := range b.waiters {
		select {
		case w.ch <- struct{}{}:
		default:
		}
		b.waiters[i] = nil
	}
	b.parked.Add(-int32(len(b.waiters)))
	b.waiters = b.waiters[:0]
	b.mu.Unlock()
}

// YieldingWait spins, then yields the processor, then backs off with
// short sleeps. Lowest latency, highest idle CPU.
type YieldingWait struct{}

const (
	spinTries  = 100
	yieldTries = 100
	maxBackoff = time.Millisecond
)

func (YieldingWait) WaitUntil(ctx context.Context, cond func() bool) error {
	spins, yields := spinTries, yieldTries
	backoff := time.Microsecond
	for !cond() {
		if spins > 0 {
			spins--
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if yields > 0 {
			yields--
			runtime.Gosched()
			continue
		}
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
	return nil
}

func (YieldingWait) Signal() {}

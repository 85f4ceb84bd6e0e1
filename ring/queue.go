// Package ring implements a bounded multi-producer event ring in the style
// of the LMAX disruptor.
//
// Producers claim a sequence, fill the slot returned by Get and then call
// Publish. Consumers register gating sequences; a producer never claims a
// slot that any gating sequence has not moved past, so a full ring makes
// producers wait instead of overwriting.
package ring

import (
	"context"
	"errors"
	"math"
	"math/bits"
	"sync/atomic"
)

var (
	ErrCapacityNotPowerOfTwo = errors.New("ring: capacity must be a positive power of two")
	ErrClosed                = errors.New("ring: queue is closed")
	ErrFull                  = errors.New("ring: queue is full")
)

// ProducerMode selects the claim protocol
type ProducerMode int

const (
	// MultiProducer allows concurrent claims from any number of goroutines
	MultiProducer ProducerMode = iota
	// SingleProducer requires that one goroutine does all claims
	SingleProducer
)

// ParseProducerMode maps a configuration name to a mode
func ParseProducerMode(name string) ProducerMode {
	if name == "single" {
		return SingleProducer
	}
	return MultiProducer
}

// closedBit is folded into the cursor so claims and Close race through one CAS.
// The cursor holds the last claimed sequence plus one, so it is never
// negative and the bit stays clear until Close sets it.
const closedBit int64 = 1 << 62

// Config controls queue construction
type Config struct {
	Capacity int
	Producer ProducerMode
	Wait     WaitStrategy
}

// Queue is a fixed-capacity ring of pre-allocated slots of T.
type Queue[T any] struct {
	slots     []T
	available []atomic.Int64 // round number of the last published sequence per slot
	capacity  int64
	mask      int64
	shift     uint
	producer  ProducerMode
	wait      WaitStrategy

	cursor       atomic.Int64 // last claimed sequence + 1, closedBit set after Close
	gatingCache  atomic.Int64
	gating       atomic.Pointer[[]*Sequence]
	backpressure atomic.Int64
}

// New allocates a queue. Capacity must be a power of two.
func New[T any](c Config) (*Queue[T], error) {
	if c.Capacity < 1 || c.Capacity&(c.Capacity-1) != 0 {
		return nil, ErrCapacityNotPowerOfTwo
	}
	if c.Wait == nil {
		c.Wait = NewBlockingWait()
	}

	q := &Queue[T]{
		slots:     make([]T, c.Capacity),
		available: make([]atomic.Int64, c.Capacity),
		capacity:  int64(c.Capacity),
		mask:      int64(c.Capacity - 1),
		shift:     uint(bits.TrailingZeros(uint(c.Capacity))),
		producer:  c.Producer,
		wait:      c.Wait,
	}
	for i := range q.available {
		q.available[i].Store(-1)
	}
	q.cursor.Store(InitialSequence + 1)
	q.gatingCache.Store(InitialSequence)
	empty := make([]*Sequence, 0)
	q.gating.Store(&empty)
	return q, nil
}

// Capacity returns the number of slots
func (q *Queue[T]) Capacity() int64 {
	return q.capacity
}

// WaitStrategy returns the strategy shared by producers and consumers
func (q *Queue[T]) WaitStrategy() WaitStrategy {
	return q.wait
}

// AddGatingSequences registers consumer sequences that producers must not lap.
func (q *Queue[T]) AddGatingSequences(seqs ...*Sequence) {
	for {
		old := q.gating.Load()
		next := make([]*Sequence, 0, len(*old)+len(seqs))
		next = append(next, *old...)
		next = append(next, seqs...)
		if q.gating.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Claim reserves the next sequence, waiting while the ring is full.
func (q *Queue[T]) Claim() (int64, error) {
	return q.ClaimContext(context.Background())
}

// ClaimContext is Claim with cancellation. A cancelled wait claims nothing.
func (q *Queue[T]) ClaimContext(ctx context.Context) (int64, error) {
	waited := false
	for {
		cur := q.cursor.Load()
		if cur&closedBit != 0 {
			return 0, ErrClosed
		}

		next := cur
		if !q.hasCapacity(next) {
			if !waited {
				waited = true
				q.backpressure.Add(1)
			}
			err := q.wait.WaitUntil(ctx, func() bool {
				return q.Closed() || q.hasCapacity(next)
			})
			if err != nil {
				return 0, err
			}
			continue
		}

		if q.cursor.CompareAndSwap(cur, next+1) {
			return next, nil
		}
		if q.producer == SingleProducer {
			// Only Close may race a single producer
			return 0, ErrClosed
		}
	}
}

// TryClaim reserves the next sequence or fails immediately with ErrFull or ErrClosed.
func (q *Queue[T]) TryClaim() (int64, error) {
	for {
		cur := q.cursor.Load()
		if cur&closedBit != 0 {
			return 0, ErrClosed
		}
		next := cur
		if !q.hasCapacity(next) {
			return 0, ErrFull
		}
		if q.cursor.CompareAndSwap(cur, next+1) {
			return next, nil
		}
		if q.producer == SingleProducer {
			return 0, ErrClosed
		}
	}
}

func (q *Queue[T]) hasCapacity(next int64) bool {
	wrapPoint := next - q.capacity
	if wrapPoint <= q.gatingCache.Load() {
		return true
	}
	min := minimumSequence(*q.gating.Load(), next-1)
	q.gatingCache.Store(min)
	return wrapPoint <= min
}

// Get returns the slot for a claimed sequence. The pointer is only valid
// until the slot is reused one lap later.
func (q *Queue[T]) Get(seq int64) *T {
	return &q.slots[seq&q.mask]
}

// Publish makes a claimed slot visible to consumers.
func (q *Queue[T]) Publish(seq int64) {
	q.available[seq&q.mask].Store(seq >> q.shift)
	q.wait.Signal()
}

// IsPublished reports whether exactly seq (not an earlier lap) was published.
func (q *Queue[T]) IsPublished(seq int64) bool {
	return q.available[seq&q.mask].Load() == seq>>q.shift
}

// Release wakes producers after a consumer moved its gating sequence.
func (q *Queue[T]) Release() {
	q.wait.Signal()
}

// Close stops new claims and returns the last claimed sequence, which is
// the point consumers must drain to. Calling Close twice returns the same value.
func (q *Queue[T]) Close() int64 {
	for {
		cur := q.cursor.Load()
		if cur&closedBit != 0 {
			return cur&^closedBit - 1
		}
		if q.cursor.CompareAndSwap(cur, cur|closedBit) {
			q.wait.Signal()
			return cur - 1
		}
	}
}

// Closed reports whether Close was called
func (q *Queue[T]) Closed() bool {
	return q.cursor.Load()&closedBit != 0
}

// Cursor returns the last claimed sequence
func (q *Queue[T]) Cursor() int64 {
	return q.cursor.Load()&^closedBit - 1
}

// Depth returns the number of claimed slots not yet released by every consumer.
func (q *Queue[T]) Depth() int64 {
	cur := q.Cursor()
	min := minimumSequence(*q.gating.Load(), cur)
	if min == math.MaxInt64 || min > cur {
		return 0
	}
	return cur - min
}

// RemainingCapacity returns how many sequences can be claimed without waiting.
func (q *Queue[T]) RemainingCapacity() int64 {
	return q.capacity - q.Depth()
}

// BackpressureCount returns how many claims had to wait for space.
func (q *Queue[T]) BackpressureCount() int64 {
	return q.backpressure.Load()
}

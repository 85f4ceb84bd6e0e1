package notify

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// defaultBufferSize is the buffer size for subscriber channels.
// Subscribers that can't keep up have records dropped (non-blocking send).
const defaultBufferSize = 16

const shardCount = 32

// subscription represents a single subscriber.
type subscription struct {
	id       uint64
	receiver int64
	all      bool
	ch       chan Record
	closed   atomic.Bool
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

type shard struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
}

// Hub fans notification records out to in-process subscribers.
// Receiver subscriptions are spread over shards by receiver id so
// publishes for different users rarely contend on the same lock.
type Hub struct {
	shards [shardCount]*shard
	global *shard
	nextID atomic.Uint64
	closed atomic.Bool
}

// NewHub creates an empty notification hub.
func NewHub() *Hub {
	h := &Hub{global: &shard{subs: make(map[uint64]*subscription)}}
	for i := range h.shards {
		h.shards[i] = &shard{subs: make(map[uint64]*subscription)}
	}
	return h
}

func (h *Hub) shardFor(receiver int64) *shard {
	sum := xxhash.Sum64String(strconv.FormatInt(receiver, 10))
	return h.shards[sum%shardCount]
}

// Publish delivers rec to the receiver's subscribers and to subscribers of
// every receiver. Delivery never blocks; full subscribers miss the record.
// It returns the number of subscribers that accepted it.
func (h *Hub) Publish(rec Record) int {
	if h.closed.Load() {
		return 0
	}
	return h.shardFor(rec.ReceiverID).deliver(rec) + h.global.deliver(rec)
}

func (s *shard) deliver(rec Record) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sub := range s.subs {
		if !sub.all && sub.receiver != rec.ReceiverID {
			continue
		}
		select {
		case sub.ch <- rec:
			n++
		default:
		}
	}
	return n
}

// Save implements Port for deployments without a durable outbox.
func (h *Hub) Save(_ context.Context, rec Record) error {
	h.Publish(rec)
	return nil
}

// Subscribe returns a channel receiving records addressed to receiver.
// The cancel function is idempotent.
func (h *Hub) Subscribe(receiver int64) (<-chan Record, func()) {
	return h.subscribe(h.shardFor(receiver), &subscription{receiver: receiver})
}

// SubscribeAll returns a channel receiving every record.
func (h *Hub) SubscribeAll() (<-chan Record, func()) {
	return h.subscribe(h.global, &subscription{all: true})
}

func (h *Hub) subscribe(s *shard, sub *subscription) (<-chan Record, func()) {
	sub.id = h.nextID.Add(1)
	sub.ch = make(chan Record, defaultBufferSize)

	s.mu.Lock()
	if h.closed.Load() {
		s.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(s, sub.id) }
}

func (h *Hub) unsubscribe(s *shard, id uint64) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	n := 0
	for _, s := range append(h.shards[:], h.global) {
		s.mu.RLock()
		n += len(s.subs)
		s.mu.RUnlock()
	}
	return n
}

// Close closes all subscriber channels. Later publishes are dropped.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	for _, s := range append(h.shards[:], h.global) {
		s.mu.Lock()
		for id, sub := range s.subs {
			delete(s.subs, id)
			sub.close()
		}
		s.mu.Unlock()
	}
}

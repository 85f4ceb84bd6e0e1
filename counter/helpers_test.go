package counter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errDown = errors.New("store down")

// fakeStore is an in-memory Store with switchable failures
type fakeStore struct {
	mu     sync.Mutex
	rows   map[Key]int64
	reads  atomic.Int64
	writes atomic.Int64

	failRead   atomic.Bool
	failWrite  atomic.Bool
	failDelete atomic.Bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[Key]int64)}
}

func (s *fakeStore) ReadCounter(ctx context.Context, key Key) (int64, bool, error) {
	s.reads.Add(1)
	if s.failRead.Load() {
		return 0, false, errDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[key]
	return v, ok, nil
}

func (s *fakeStore) WriteCounter(ctx context.Context, key Key, value int64) error {
	if s.failWrite.Load() {
		return errDown
	}
	s.writes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = value
	return nil
}

func (s *fakeStore) DeleteCounter(ctx context.Context, key Key) error {
	if s.failDelete.Load() {
		return errDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
	return nil
}

func (s *fakeStore) value(key Key) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[key]
	return v, ok
}

func (s *fakeStore) set(key Key, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = v
}

// fakeBatchStore adds the all-or-nothing batch path
type fakeBatchStore struct {
	*fakeStore
	batches atomic.Int64
}

func (s *fakeBatchStore) WriteCounters(ctx context.Context, values map[Key]int64) error {
	if s.failWrite.Load() {
		return errDown
	}
	s.batches.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.rows[k] = v
	}
	return nil
}

// gatedStore parks the first write until release is closed
type gatedStore struct {
	*fakeStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		fakeStore: newFakeStore(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (s *gatedStore) WriteCounter(ctx context.Context, key Key, value int64) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.fakeStore.WriteCounter(ctx, key, value)
}

// listingStore adds key enumeration to fakeStore
type listingStore struct {
	*fakeStore
}

func (s *listingStore) Keys(ctx context.Context, entity EntityType, limit uint) ([]Key, error) {
	if s.failRead.Load() {
		return nil, errDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []Key
	for k := range s.rows {
		if k.Entity == entity && uint(len(keys)) < limit {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

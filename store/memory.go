package store

import (
	"context"
	"sort"
	"sync"

	"github.com/maxpert/engage/counter"
)

// MemoryStore is a process-local durable store for tests and single node demos
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[counter.Key]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[counter.Key]int64)}
}

func (m *MemoryStore) ReadCounter(ctx context.Context, key counter.Key) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.rows[key]
	return v, ok, nil
}

func (m *MemoryStore) WriteCounter(ctx context.Context, key counter.Key, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key] = value
	return nil
}

func (m *MemoryStore) WriteCounters(ctx context.Context, values map[counter.Key]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.rows[k] = v
	}
	return nil
}

func (m *MemoryStore) DeleteCounter(ctx context.Context, key counter.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, key)
	return nil
}

// Keys lists up to limit stored keys of one entity type in id order
func (m *MemoryStore) Keys(ctx context.Context, entity counter.EntityType, limit uint) ([]counter.Key, error) {
	m.mu.RLock()
	var keys []counter.Key
	for k := range m.rows {
		if k.Entity == entity {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	if uint(len(keys)) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored counters
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

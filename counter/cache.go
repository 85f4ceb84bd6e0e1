package counter

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Cache is the hot side of the repository. Every method is atomic per key.
type Cache interface {
	Get(key Key) (int64, bool)
	// Seed stores value unless the key is already present and returns what is cached
	Seed(key Key, value int64) int64
	Set(key Key, value int64)
	// Add applies delta clamped at floor; ok is false when the key is absent
	Add(key Key, delta, floor int64) (value int64, ok bool)
	Delete(key Key)
	// EvictIdle drops entries untouched since cutoff unless keep says otherwise
	EvictIdle(cutoff time.Time, keep func(Key) bool) int
	Len() int
}

type cacheEntry struct {
	value   int64
	touched int64
}

// MemoryCache keeps counters in a concurrent map
type MemoryCache struct {
	m   *xsync.MapOf[Key, cacheEntry]
	now func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		m:   xsync.NewMapOf[Key, cacheEntry](),
		now: time.Now,
	}
}

func (c *MemoryCache) Get(key Key) (int64, bool) {
	e, ok := c.m.Load(key)
	return e.value, ok
}

func (c *MemoryCache) Seed(key Key, value int64) int64 {
	now := c.now().UnixNano()
	e, _ := c.m.Compute(key, func(old cacheEntry, loaded bool) (cacheEntry, bool) {
		if loaded {
			return old, false
		}
		return cacheEntry{value: value, touched: now}, false
	})
	return e.value
}

func (c *MemoryCache) Set(key Key, value int64) {
	c.m.Store(key, cacheEntry{value: value, touched: c.now().UnixNano()})
}

func (c *MemoryCache) Add(key Key, delta, floor int64) (int64, bool) {
	now := c.now().UnixNano()
	present := true
	e, _ := c.m.Compute(key, func(old cacheEntry, loaded bool) (cacheEntry, bool) {
		if !loaded {
			present = false
			return old, true
		}
		v := old.value + delta
		if v < floor {
			v = floor
		}
		return cacheEntry{value: v, touched: now}, false
	})
	if !present {
		return 0, false
	}
	return e.value, true
}

func (c *MemoryCache) Delete(key Key) {
	c.m.Delete(key)
}

func (c *MemoryCache) EvictIdle(cutoff time.Time, keep func(Key) bool) int {
	limit := cutoff.UnixNano()
	evicted := 0
	c.m.Range(func(k Key, e cacheEntry) bool {
		if e.touched >= limit || (keep != nil && keep(k)) {
			return true
		}
		c.m.Compute(k, func(old cacheEntry, loaded bool) (cacheEntry, bool) {
			if loaded && old.touched < limit {
				evicted++
				return old, true
			}
			return old, !loaded
		})
		return true
	})
	return evicted
}

func (c *MemoryCache) Len() int {
	return c.m.Size()
}

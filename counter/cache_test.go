package counter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_AddRequiresPresence(t *testing.T) {
	c := NewMemoryCache()
	k := NewKey(PostLikes, 1)

	_, ok := c.Add(k, 1, 0)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "a miss must not create an entry")

	assert.Equal(t, int64(5), c.Seed(k, 5))
	assert.Equal(t, int64(5), c.Seed(k, 9), "seed never overwrites")

	v, ok := c.Add(k, -10, 0)
	assert.True(t, ok)
	assert.Equal(t, int64(0), v)

	c.Set(k, 3)
	v, _ = c.Get(k)
	assert.Equal(t, int64(3), v)

	c.Delete(k)
	_, ok = c.Get(k)
	assert.False(t, ok)
}

func TestMemoryCache_ConcurrentAdd(t *testing.T) {
	c := NewMemoryCache()
	k := NewKey(UserPoints, 7)
	c.Seed(k, 0)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Add(k, 1, 0)
			}
		}()
	}
	wg.Wait()

	v, _ := c.Get(k)
	assert.Equal(t, int64(16000), v)
}

func TestMemoryCache_EvictIdle(t *testing.T) {
	c := NewMemoryCache()
	base := time.Now()
	c.now = func() time.Time { return base }

	old, fresh, kept := NewKey(PostViews, 1), NewKey(PostViews, 2), NewKey(PostViews, 3)
	c.Set(old, 1)
	c.Set(kept, 1)

	c.now = func() time.Time { return base.Add(time.Hour) }
	c.Set(fresh, 1)

	n := c.EvictIdle(base.Add(time.Minute), func(k Key) bool { return k == kept })
	assert.Equal(t, 1, n)
	_, ok := c.Get(old)
	assert.False(t, ok)
	_, ok = c.Get(fresh)
	assert.True(t, ok)
	_, ok = c.Get(kept)
	assert.True(t, ok)
}

package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var postLikes42 = NewKey(PostLikes, 42)

func newRepo(t *testing.T, store Store, mode WriteMode) *Repository {
	t.Helper()
	r, err := NewRepository(NewMemoryCache(), store, Config{Mode: mode, BatchWait: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRepository_DecrementClampsAtFloor(t *testing.T) {
	for _, mode := range []WriteMode{WriteThrough, WriteBack} {
		store := newFakeStore()
		r := newRepo(t, store, mode)
		ctx := context.Background()

		v, err := r.Decrement(ctx, postLikes42)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)

		v, err = r.Get(ctx, postLikes42)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)

		_, err = r.Increment(ctx, postLikes42)
		require.NoError(t, err)
		v, err = r.Add(ctx, postLikes42, -5)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)
	}
}

func TestRepository_CustomFloor(t *testing.T) {
	r, err := NewRepository(NewMemoryCache(), newFakeStore(), Config{Mode: WriteBack, Floor: 2})
	require.NoError(t, err)
	defer r.Close()

	v, err := r.Add(context.Background(), postLikes42, -10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = NewRepository(NewMemoryCache(), newFakeStore(), Config{Floor: -1})
	assert.Error(t, err)
}

func TestRepository_GetBackfillsFromDurable(t *testing.T) {
	store := newFakeStore()
	store.set(postLikes42, 7)
	r := newRepo(t, store, WriteThrough)
	ctx := context.Background()

	_, cached := r.cache.Get(postLikes42)
	require.False(t, cached)

	v, err := r.Get(ctx, postLikes42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	cv, cached := r.cache.Get(postLikes42)
	assert.True(t, cached)
	assert.Equal(t, int64(7), cv)

	_, err = r.Get(ctx, postLikes42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.reads.Load(), "second read must be served from cache")
}

func TestRepository_ZeroDurableValueNotBackfilled(t *testing.T) {
	store := newFakeStore()
	key := NewKey(UserFans, 9)
	store.set(key, 0)
	r := newRepo(t, store, WriteThrough)

	v, err := r.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
	_, cached := r.cache.Get(key)
	assert.False(t, cached)
}

func TestRepository_NegativeCache(t *testing.T) {
	store := newFakeStore()
	r := newRepo(t, store, WriteThrough)
	ctx := context.Background()
	key := NewKey(PostViews, 1)

	for i := 0; i < 3; i++ {
		v, err := r.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)
	}
	assert.Equal(t, int64(1), store.reads.Load())

	v, err := r.Increment(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, int64(1), store.reads.Load(), "confirmed-absent key seeds without a read")

	v, err = r.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestRepository_IncrementSeedsFromDurable(t *testing.T) {
	store := newFakeStore()
	store.set(postLikes42, 10)
	r := newRepo(t, store, WriteThrough)

	v, err := r.Increment(context.Background(), postLikes42)
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)

	durable, _ := store.value(postLikes42)
	assert.Equal(t, int64(11), durable, "write-through must reach the store before returning")
	assert.Equal(t, 0, r.DirtyKeys())
}

func TestRepository_WriteBackReconcileIdempotent(t *testing.T) {
	store := newFakeStore()
	r := newRepo(t, store, WriteBack)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := r.Increment(ctx, postLikes42)
		require.NoError(t, err)
	}
	_, err := r.Increment(ctx, NewKey(CommentLikes, 3))
	require.NoError(t, err)

	_, ok := store.value(postLikes42)
	assert.False(t, ok, "write-back must not touch the store before reconcile")
	assert.Equal(t, 2, r.DirtyKeys())

	res, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 0, res.Failed)

	durable, _ := store.value(postLikes42)
	assert.Equal(t, int64(5), durable)
	writes := store.writes.Load()

	res, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Written)
	assert.Equal(t, writes, store.writes.Load())
	durable, _ = store.value(postLikes42)
	assert.Equal(t, int64(5), durable)
}

func TestRepository_ReconcileUsesBatchStore(t *testing.T) {
	store := &fakeBatchStore{fakeStore: newFakeStore()}
	r, err := NewRepository(NewMemoryCache(), store, Config{Mode: WriteBack, BatchSize: 2})
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		_, err := r.Increment(ctx, NewKey(PostLikes, id))
		require.NoError(t, err)
	}

	res, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Written)
	assert.Equal(t, int64(3), store.batches.Load())
	assert.Equal(t, int64(0), store.writes.Load())
}

func TestRepository_ReconcileFailureKeepsKeysDirty(t *testing.T) {
	store := newFakeStore()
	r := newRepo(t, store, WriteBack)
	ctx := context.Background()

	_, err := r.Add(ctx, postLikes42, 3)
	require.NoError(t, err)

	store.failWrite.Store(true)
	res, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, r.DirtyKeys())

	store.failWrite.Store(false)
	res, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 0, r.DirtyKeys())
	durable, _ := store.value(postLikes42)
	assert.Equal(t, int64(3), durable)
}

func TestRepository_WriteThroughFailureDefersToReconcile(t *testing.T) {
	store := newFakeStore()
	r := newRepo(t, store, WriteThrough)
	ctx := context.Background()

	store.failWrite.Store(true)
	v, err := r.Increment(ctx, postLikes42)
	require.NoError(t, err, "durable failures degrade instead of failing the caller")
	assert.Equal(t, int64(1), v)
	assert.Equal(t, 1, r.DirtyKeys())

	store.failWrite.Store(false)
	_, err = r.Reconcile(ctx)
	require.NoError(t, err)
	durable, _ := store.value(postLikes42)
	assert.Equal(t, int64(1), durable)
}

func TestRepository_UnreadableStoreBuffersDeltas(t *testing.T) {
	store := newFakeStore()
	store.set(postLikes42, 100)
	r := newRepo(t, store, WriteBack)
	ctx := context.Background()

	store.failRead.Store(true)
	for i := 0; i < 3; i++ {
		_, err := r.Increment(ctx, postLikes42)
		require.NoError(t, err)
	}
	v, err := r.Get(ctx, postLikes42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v, "best known value while the store is unreadable")

	res, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)
	durable, _ := store.value(postLikes42)
	assert.Equal(t, int64(100), durable, "no write while the base is unknown")

	store.failRead.Store(false)
	res, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pending)
	assert.Equal(t, 1, res.Written)

	durable, _ = store.value(postLikes42)
	assert.Equal(t, int64(103), durable)
	v, err = r.Get(ctx, postLikes42)
	require.NoError(t, err)
	assert.Equal(t, int64(103), v)
}

func TestRepository_Delete(t *testing.T) {
	store := newFakeStore()
	r := newRepo(t, store, WriteThrough)
	ctx := context.Background()

	_, err := r.Add(ctx, postLikes42, 4)
	require.NoError(t, err)

	store.failDelete.Store(true)
	err = r.Delete(ctx, postLikes42)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "delete", se.Op)
	assert.ErrorIs(t, err, errDown)

	v, ok := r.cache.Get(postLikes42)
	assert.True(t, ok, "failed durable delete must keep the cache entry")
	assert.Equal(t, int64(4), v)
	durable, ok := store.value(postLikes42)
	assert.True(t, ok)
	assert.Equal(t, int64(4), durable)

	store.failDelete.Store(false)
	require.NoError(t, r.Delete(ctx, postLikes42))
	_, ok = r.cache.Get(postLikes42)
	assert.False(t, ok)
	_, ok = store.value(postLikes42)
	assert.False(t, ok)

	v, err = r.Get(ctx, postLikes42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestRepository_SyncToCache(t *testing.T) {
	store := newFakeStore()
	r := newRepo(t, store, WriteBack)
	ctx := context.Background()
	a, b := NewKey(UserPosts, 1), NewKey(UserPosts, 2)

	store.set(a, 40)
	_, err := r.Get(ctx, a)
	require.NoError(t, err)
	store.set(a, 41)

	v, err := r.SyncToCache(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(41), v)
	cv, _ := r.cache.Get(a)
	assert.Equal(t, int64(41), cv)

	_, err = r.Increment(ctx, b)
	require.NoError(t, err)
	store.set(b, 99)
	v, err = r.SyncToCache(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "dirty keys keep the newer cached value")

	store.failRead.Store(true)
	_, err = r.SyncToCache(ctx, a)
	assert.Error(t, err)
	assert.Error(t, r.Warm(ctx, a))
}

func TestRepository_ConcurrentIncrements(t *testing.T) {
	store := newFakeStore()
	r := newRepo(t, store, WriteThrough)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := r.Increment(ctx, postLikes42)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := r.Get(ctx, postLikes42)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v)

	durable, _ := store.value(postLikes42)
	assert.Equal(t, int64(1000), durable)
}

func TestRepository_EvictIdleKeepsDirty(t *testing.T) {
	store := newFakeStore()
	cache := NewMemoryCache()
	r, err := NewRepository(cache, store, Config{Mode: WriteBack, IdleTTL: time.Minute})
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	clean, dirty := NewKey(PostViews, 1), NewKey(PostViews, 2)
	store.set(clean, 5)
	_, err = r.Get(ctx, clean)
	require.NoError(t, err)
	_, err = r.Increment(ctx, dirty)
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(-time.Hour) }
	cache.Set(clean, 5)
	cache.Set(dirty, 1)

	assert.Equal(t, 1, r.EvictIdle())
	_, ok := cache.Get(clean)
	assert.False(t, ok)
	_, ok = cache.Get(dirty)
	assert.True(t, ok)
	assert.Equal(t, 1, r.CachedKeys())
}

func TestRepository_CancelledContext(t *testing.T) {
	r := newRepo(t, newFakeStore(), WriteBack)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Increment(ctx, postLikes42)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRepository_OverlappingReconcilesConverge(t *testing.T) {
	store := newGatedStore()
	r := newRepo(t, store, WriteBack)
	ctx := context.Background()

	_, err := r.Increment(ctx, postLikes42)
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := r.Reconcile(ctx)
		first <- err
	}()
	<-store.entered

	// The first pass is stuck writing 1 while the cache moves to 2
	_, err = r.Increment(ctx, postLikes42)
	require.NoError(t, err)

	second := make(chan error, 1)
	go func() {
		_, err := r.Reconcile(ctx)
		second <- err
	}()

	time.Sleep(10 * time.Millisecond)
	close(store.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	_, err = r.Reconcile(ctx)
	require.NoError(t, err)

	cached, err := r.Get(ctx, postLikes42)
	require.NoError(t, err)
	durable, _ := store.value(postLikes42)
	assert.Equal(t, int64(2), cached)
	assert.Equal(t, cached, durable)
	assert.Equal(t, 0, r.DirtyKeys())
}

func TestRepository_WarmEntities(t *testing.T) {
	store := &listingStore{fakeStore: newFakeStore()}
	store.set(NewKey(PostLikes, 1), 4)
	store.set(NewKey(PostLikes, 2), 9)
	store.set(NewKey(UserFans, 7), 3)
	r := newRepo(t, store, WriteBack)
	ctx := context.Background()

	n, err := r.WarmEntities(ctx, []EntityType{PostLikes}, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, r.CachedKeys())

	reads := store.reads.Load()
	v, err := r.Get(ctx, NewKey(PostLikes, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)
	assert.Equal(t, reads, store.reads.Load(), "warmed keys are served from the cache")

	store.failRead.Store(true)
	_, err = r.WarmEntities(ctx, []EntityType{UserFans}, 100)
	var se *StoreError
	assert.ErrorAs(t, err, &se)
}

func TestRepository_WarmEntitiesWithoutLister(t *testing.T) {
	r := newRepo(t, newFakeStore(), WriteBack)
	n, err := r.WarmEntities(context.Background(), EntityTypes(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

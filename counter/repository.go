// Package counter serves engagement counters from memory while keeping a
// durable store eventually consistent with it.
//
// Reads prefer the cache and fall back to the durable store, backfilling
// positive values. Mutations are atomic per key on the cache and reach the
// durable store either immediately through a grouping writer (write-through)
// or on the next reconciliation pass (write-back). A key whose durable write
// fails stays dirty until a later pass succeeds.
package counter

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/engage/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// WriteMode selects how mutations reach the durable store
type WriteMode int

const (
	WriteThrough WriteMode = iota
	WriteBack
)

const (
	DefaultNegativeCacheSize = 4096
	DefaultBatchSize         = 128
	DefaultBatchWait         = 2 * time.Millisecond
)

// Config controls a Repository
type Config struct {
	Mode              WriteMode
	Floor             int64
	NegativeCacheSize int
	BatchSize         int
	BatchWait         time.Duration
	IdleTTL           time.Duration
}

// Repository is the dual-store counter repository. Safe for concurrent use.
type Repository struct {
	cache  Cache
	store  Store
	mode   WriteMode
	floor  int64
	idle   time.Duration
	batch  int
	writer *batchWriter

	// syncMu serializes read-cache-then-write-durable sections so a slow
	// write can never land after a newer value for the same key. Cache
	// mutations never take it.
	syncMu sync.Mutex

	dirty   *xsync.MapOf[Key, struct{}]
	pending *xsync.MapOf[Key, int64] // deltas accepted while the durable base was unreadable
	absent  *lru.Cache[Key, struct{}]
}

// NewRepository wires a cache and a durable store. Call Close to flush.
func NewRepository(cache Cache, store Store, c Config) (*Repository, error) {
	if c.NegativeCacheSize <= 0 {
		c.NegativeCacheSize = DefaultNegativeCacheSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchWait <= 0 {
		c.BatchWait = DefaultBatchWait
	}
	if c.Floor < 0 {
		return nil, errors.New("counter: floor must be >= 0")
	}

	absent, err := lru.New[Key, struct{}](c.NegativeCacheSize)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		cache:   cache,
		store:   store,
		mode:    c.Mode,
		floor:   c.Floor,
		idle:    c.IdleTTL,
		batch:   c.BatchSize,
		dirty:   xsync.NewMapOf[Key, struct{}](),
		pending: xsync.NewMapOf[Key, int64](),
		absent:  absent,
	}

	if c.Mode == WriteThrough {
		r.writer = newBatchWriter(store, cache.Get, c.BatchSize, c.BatchWait)
		r.writer.syncMu = &r.syncMu
		r.writer.Start()
	}
	return r, nil
}

// Close flushes queued write-through updates. Dirty keys are left for Reconcile.
func (r *Repository) Close() {
	if r.writer != nil {
		r.writer.Stop()
	}
}

// Increment adds one and returns the new value
func (r *Repository) Increment(ctx context.Context, key Key) (int64, error) {
	return r.Add(ctx, key, 1)
}

// Decrement subtracts one, never going below the floor
func (r *Repository) Decrement(ctx context.Context, key Key) (int64, error) {
	return r.Add(ctx, key, -1)
}

// Add applies delta atomically and returns the resulting cached value.
// Durable failures are logged and leave the key dirty instead of failing
// the call; the returned error is reserved for cancellation.
func (r *Repository) Add(ctx context.Context, key Key, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for {
		if v, ok := r.cache.Add(key, delta, r.floor); ok {
			r.afterWrite(ctx, key)
			return v, nil
		}

		base, ok := r.loadBase(ctx, key)
		if !ok {
			// Base unknown: keep the delta aside, it is folded in once the store answers
			v, _ := r.pending.Compute(key, func(old int64, loaded bool) (int64, bool) {
				return old + delta, false
			})
			r.dirty.Store(key, struct{}{})
			return r.clamp(v), nil
		}
		r.seed(key, base)
	}
}

// Get returns the current value. A cache miss reads the durable store and
// backfills positive values. If the store is unreachable the best known
// value is returned.
func (r *Repository) Get(ctx context.Context, key Key) (int64, error) {
	if v, ok := r.cache.Get(key); ok {
		telemetry.CounterCacheTotal.With("hit").Inc()
		return v, nil
	}

	if _, ok := r.absent.Get(key); ok {
		telemetry.CounterCacheTotal.With("negative").Inc()
		return r.bestKnown(key), nil
	}
	telemetry.CounterCacheTotal.With("miss").Inc()

	v, found, err := r.read(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return r.bestKnown(key), nil
	}

	if !found {
		r.absent.Add(key, struct{}{})
		return r.bestKnown(key), nil
	}
	if v > 0 {
		return r.seed(key, v), nil
	}
	return v, nil
}

// Reconcile folds buffered deltas, then pushes the cached value of every
// dirty key to the durable store. Keys that fail stay dirty. Running it
// again with no new mutations writes nothing.
func (r *Repository) Reconcile(ctx context.Context) (ReconcileResult, error) {
	start := time.Now()
	res := ReconcileResult{}

	r.foldPending(ctx)

	var keys []Key
	r.dirty.Range(func(k Key, _ struct{}) bool {
		if _, buffered := r.pending.Load(k); buffered {
			return true
		}
		if _, ok := r.dirty.LoadAndDelete(k); ok {
			keys = append(keys, k)
		}
		return true
	})

	for i := 0; i < len(keys); i += r.batch {
		if err := ctx.Err(); err != nil {
			for _, k := range keys[i:] {
				r.dirty.Store(k, struct{}{})
			}
			telemetry.ReconcileRoundsTotal.With("cancelled").Inc()
			return res, err
		}

		end := i + r.batch
		if end > len(keys) {
			end = len(keys)
		}

		values, failed := r.pushBatch(ctx, keys[i:end])
		for k, err := range failed {
			r.dirty.Store(k, struct{}{})
			log.Warn().Err(err).Str("key", k.String()).Msg("Counter reconcile write failed, will retry")
		}
		res.Written += len(values) - len(failed)
		res.Failed += len(failed)
	}

	res.Pending = r.pending.Size()
	res.Duration = time.Since(start)

	telemetry.ReconcileKeysTotal.With("written").Add(float64(res.Written))
	telemetry.ReconcileKeysTotal.With("failed").Add(float64(res.Failed))
	telemetry.ReconcileDurationSeconds.Observe(res.Duration.Seconds())
	if res.Failed > 0 || res.Pending > 0 {
		telemetry.ReconcileRoundsTotal.With("partial").Inc()
	} else {
		telemetry.ReconcileRoundsTotal.With("ok").Inc()
	}

	if res.Written > 0 || res.Failed > 0 {
		log.Info().
			Int("written", res.Written).
			Int("failed", res.Failed).
			Int("pending", res.Pending).
			Dur("took", res.Duration).
			Msg("Counter reconcile complete")
	}
	return res, nil
}

// ReconcileResult summarizes one pass
type ReconcileResult struct {
	Written  int
	Failed   int
	Pending  int
	Duration time.Duration
}

// Delete removes the counter durably first, then from the cache. A durable
// failure leaves both stores untouched and is returned.
func (r *Repository) Delete(ctx context.Context, key Key) error {
	start := time.Now()
	err := r.store.DeleteCounter(ctx, key)
	telemetry.CounterStoreSeconds.With("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.CounterStoreErrorsTotal.With("delete").Inc()
		return &StoreError{Op: "delete", Key: key, Err: err}
	}

	r.dirty.Delete(key)
	r.pending.Delete(key)
	r.cache.Delete(key)
	r.absent.Add(key, struct{}{})
	return nil
}

// SyncToCache reloads key from the durable store into the cache. Dirty keys
// are left alone since the cache is ahead of the store for them.
func (r *Repository) SyncToCache(ctx context.Context, key Key) (int64, error) {
	if _, dirty := r.dirty.Load(key); dirty {
		v, _ := r.cache.Get(key)
		return v, nil
	}

	v, found, err := r.read(ctx, key)
	if err != nil {
		return 0, &StoreError{Op: "read", Key: key, Err: err}
	}
	if !found {
		r.cache.Delete(key)
		r.absent.Add(key, struct{}{})
		return 0, nil
	}

	r.absent.Remove(key)
	r.cache.Set(key, v)
	return v, nil
}

// Warm loads keys into the cache, stopping at the first durable failure
func (r *Repository) Warm(ctx context.Context, keys ...Key) error {
	for _, k := range keys {
		if _, err := r.SyncToCache(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// WarmEntities bulk loads up to limit stored counters of each entity type
// into the cache and returns how many were loaded. Stores that cannot list
// their keys are skipped with a warning.
func (r *Repository) WarmEntities(ctx context.Context, entities []EntityType, limit uint) (int, error) {
	lister, ok := r.store.(KeyLister)
	if !ok {
		log.Warn().Msg("Counter store cannot list keys, skipping cache warm-up")
		return 0, nil
	}

	start := time.Now()
	loaded := 0
	for _, e := range entities {
		keys, err := lister.Keys(ctx, e, limit)
		if err != nil {
			return loaded, &StoreError{Op: "list", Key: NewKey(e, 0), Err: err}
		}
		if err := r.Warm(ctx, keys...); err != nil {
			return loaded, err
		}
		loaded += len(keys)
	}

	log.Info().
		Int("keys", loaded).
		Int("entity_types", len(entities)).
		Dur("took", time.Since(start)).
		Msg("Counter cache warmed")
	return loaded, nil
}

// EvictIdle drops cache entries not touched within the idle TTL. Dirty and
// buffered keys are never evicted.
func (r *Repository) EvictIdle() int {
	if r.idle <= 0 {
		return 0
	}
	return r.cache.EvictIdle(time.Now().Add(-r.idle), func(k Key) bool {
		if _, ok := r.dirty.Load(k); ok {
			return true
		}
		_, ok := r.pending.Load(k)
		return ok
	})
}

// DirtyKeys returns the number of keys awaiting reconciliation
func (r *Repository) DirtyKeys() int {
	return r.dirty.Size()
}

// CachedKeys returns the number of resident cache entries
func (r *Repository) CachedKeys() int {
	return r.cache.Len()
}

func (r *Repository) afterWrite(ctx context.Context, key Key) {
	r.absent.Remove(key)

	if r.mode == WriteBack {
		r.dirty.Store(key, struct{}{})
		return
	}

	if _, err := r.writer.Enqueue(key).Get(); err != nil {
		r.dirty.Store(key, struct{}{})
		telemetry.CounterStoreErrorsTotal.With("write").Inc()
		log.Warn().Err(err).Str("key", key.String()).Msg("Counter write-through failed, deferred to reconcile")
	}
}

// loadBase reads the durable value used to seed a cache miss
func (r *Repository) loadBase(ctx context.Context, key Key) (int64, bool) {
	if _, ok := r.absent.Get(key); ok {
		return 0, true
	}
	v, _, err := r.read(ctx, key)
	if err != nil {
		return 0, false
	}
	return v, true
}

// seed installs base and folds any buffered delta for key
func (r *Repository) seed(key Key, base int64) int64 {
	v := r.cache.Seed(key, base)
	r.absent.Remove(key)
	if d, ok := r.pending.LoadAndDelete(key); ok {
		v, _ = r.cache.Add(key, d, r.floor)
		r.dirty.Store(key, struct{}{})
	}
	return v
}

// pushBatch writes the current cache values of keys to the durable store
func (r *Repository) pushBatch(ctx context.Context, keys []Key) (map[Key]int64, map[Key]error) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	values := make(map[Key]int64, len(keys))
	for _, k := range keys {
		if v, ok := r.cache.Get(k); ok {
			values[k] = v
		}
	}
	return values, writeAll(ctx, r.store, values)
}

func (r *Repository) foldPending(ctx context.Context) {
	r.pending.Range(func(k Key, _ int64) bool {
		if _, ok := r.cache.Get(k); ok {
			if d, ok := r.pending.LoadAndDelete(k); ok {
				r.cache.Add(k, d, r.floor)
			}
			return true
		}
		if base, ok := r.loadBase(ctx, k); ok {
			r.seed(k, base)
		}
		return true
	})
}

func (r *Repository) read(ctx context.Context, key Key) (int64, bool, error) {
	start := time.Now()
	v, found, err := r.store.ReadCounter(ctx, key)
	telemetry.CounterStoreSeconds.With("read").Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.CounterStoreErrorsTotal.With("read").Inc()
		log.Warn().Err(err).Str("key", key.String()).Msg("Counter durable read failed")
	}
	return v, found, err
}

func (r *Repository) bestKnown(key Key) int64 {
	if d, ok := r.pending.Load(key); ok {
		return r.clamp(d)
	}
	return 0
}

func (r *Repository) clamp(v int64) int64 {
	if v < r.floor {
		return r.floor
	}
	return v
}

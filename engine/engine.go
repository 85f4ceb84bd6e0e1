// Package engine assembles the event ring, worker pool, handler chain,
// counter repository, transaction coordinator and notification outbox into
// one lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/maxpert/engage/cfg"
	"github.com/maxpert/engage/counter"
	"github.com/maxpert/engage/dispatch"
	"github.com/maxpert/engage/event"
	"github.com/maxpert/engage/handlers"
	"github.com/maxpert/engage/hlc"
	"github.com/maxpert/engage/id"
	"github.com/maxpert/engage/monitor"
	"github.com/maxpert/engage/notify"
	"github.com/maxpert/engage/publisher"
	"github.com/maxpert/engage/ring"
	"github.com/maxpert/engage/store"
	"github.com/maxpert/engage/telemetry"
	"github.com/maxpert/engage/txn"
	"github.com/rs/zerolog/log"

	// sink and format factories
	_ "github.com/maxpert/engage/publisher/sink"
	_ "github.com/maxpert/engage/publisher/transformer"
)

var ErrStopped = errors.New("engine: stopped")

const collectInterval = 5 * time.Second

// Options wires an Engine. Only Config is required.
type Options struct {
	Config *cfg.Configuration

	// Store overrides the durable store selected by Config.Store. The engine
	// does not close a store it did not open.
	Store counter.Store
	// Cache overrides the in-memory counter cache
	Cache counter.Cache
	// Notify overrides the notification port built from Config.Notify
	Notify notify.Port
	// Points overrides handlers.DefaultPointRules
	Points *handlers.PointRules
	// Handlers are appended to the stock chain
	Handlers []dispatch.Registration
	// OutboxFS overrides the outbox filesystem, vfs.NewMem() in tests
	OutboxFS vfs.FS
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopped
)

// Engine is the running event and consistency engine
type Engine struct {
	conf *cfg.Configuration

	clock      *hlc.Clock
	queue      *ring.Queue[event.Event]
	router     *dispatch.Router
	pool       *dispatch.Pool
	monitor    *monitor.Monitor
	repo       *counter.Repository
	reconciler *counter.Reconciler
	txc        *txn.Coordinator
	hub        *notify.Hub
	outbox     *publisher.Registry
	collector  *telemetry.MetricsCollector

	durable store.Durable // owned, closed on Stop
	warm    []counter.EntityType

	mu    sync.Mutex
	state lifecycle
}

// New builds every component. Nothing runs until Start.
func New(ctx context.Context, o Options) (_ *Engine, err error) {
	if o.Config == nil {
		return nil, errors.New("engine: config is required")
	}
	c := o.Config

	e := &Engine{
		conf:    c,
		clock:   hlc.NewClock(c.NodeID),
		monitor: monitor.New(),
		hub:     notify.NewHub(),
	}
	defer func() {
		if err != nil {
			e.release()
		}
	}()

	e.queue, err = ring.New[event.Event](ring.Config{
		Capacity: c.Queue.Capacity,
		Producer: ring.ParseProducerMode(c.Queue.Producer),
		Wait:     ring.NewWaitStrategy(c.Queue.WaitStrategy),
	})
	if err != nil {
		return nil, err
	}

	st := o.Store
	if st == nil {
		e.durable, err = store.Open(ctx, c.Store, c.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open counter store: %w", err)
		}
		st = e.durable
	}

	cache := o.Cache
	if cache == nil {
		cache = counter.NewMemoryCache()
	}

	mode := counter.WriteThrough
	if c.Counter.WriteMode == cfg.WriteBack {
		mode = counter.WriteBack
	}
	e.repo, err = counter.NewRepository(cache, st, counter.Config{
		Mode:              mode,
		Floor:             c.Counter.DecrementFloor,
		NegativeCacheSize: c.Counter.NegativeCacheSize,
		BatchSize:         c.Counter.BatchSize,
		BatchWait:         time.Duration(c.Counter.BatchWaitMS) * time.Millisecond,
		IdleTTL:           c.Counter.IdleTTL(),
	})
	if err != nil {
		return nil, err
	}
	e.reconciler = counter.NewReconciler(e.repo, c.Counter.SyncInterval())
	if c.Counter.WarmOnStart {
		if e.warm, err = warmEntities(c.Counter.WarmEntities); err != nil {
			return nil, err
		}
	}
	e.txc = txn.NewCoordinator(id.NewHLCGenerator(e.clock))

	port := o.Notify
	if port == nil && c.Notify.Enabled {
		e.outbox, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:           c.DataDir,
			FS:                o.OutboxFS,
			Sinks:             c.Notify.Sinks,
			Hub:               e.hub,
			CompressThreshold: c.Notify.CompressThreshold,
			Retention:         time.Duration(c.Notify.RetentionHours) * time.Hour,
			CleanupInterval:   time.Duration(c.Notify.CleanupIntervalSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		port = e.outbox.Outbox()
	}

	points := handlers.DefaultPointRules
	if o.Points != nil {
		points = *o.Points
	}
	regs := handlers.Registrations(e.repo, e.txc, handlers.Options{
		Points:          points,
		Notify:          port,
		ContentMaxRunes: c.Notify.ContentMaxRunes,
	})
	e.router = dispatch.NewRouter(append(regs, o.Handlers...)...)

	e.pool = dispatch.NewPool(dispatch.PoolConfig{
		Workers:   c.Workers.Count,
		Queue:     e.queue,
		Router:    e.router,
		Sink:      dispatch.NewLoggingSink(e.monitor),
		Processed: e.monitor,
	})

	var pending telemetry.PendingProvider
	if e.outbox != nil {
		pending = e.outbox
	}
	e.collector = telemetry.NewMetricsCollector(e, pending, collectInterval)

	return e, nil
}

// Start launches workers, the reconciler, outbox sinks and the metrics collector
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrStopped
	}

	if len(e.warm) > 0 {
		// a cold cache still works, it just reads through on first access
		if _, err := e.repo.WarmEntities(context.Background(), e.warm, uint(e.conf.Counter.WarmLimit)); err != nil {
			log.Warn().Err(err).Msg("Counter cache warm-up incomplete")
		}
	}
	if e.outbox != nil {
		if err := e.outbox.Start(); err != nil {
			return err
		}
	}
	if err := e.pool.Start(); err != nil {
		return err
	}
	e.reconciler.Start()
	e.collector.Start()
	e.state = stateRunning

	log.Info().
		Int64("capacity", e.queue.Capacity()).
		Int("workers", e.conf.Workers.Count).
		Str("write_mode", string(e.conf.Counter.WriteMode)).
		Int("handlers", len(e.router.Handlers())).
		Msg("Engine started")
	return nil
}

// Stop drains the queue, runs a final reconciliation and closes every
// component. If ctx expires while draining, unprocessed events are discarded.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateStopped {
		return nil
	}
	wasRunning := e.state == stateRunning
	e.state = stateStopped

	var errs []error
	if wasRunning {
		if err := e.pool.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain workers: %w", err))
		}
		// the final pass must run even when the drain deadline is gone
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.conf.Workers.ShutdownTimeout())
		if err := e.reconciler.Stop(recCtx); err != nil {
			errs = append(errs, fmt.Errorf("final reconcile: %w", err))
		}
		cancel()
		e.collector.Stop()
	} else {
		e.queue.Close()
	}

	e.release()

	log.Info().
		Int64("discarded", e.pool.Discarded()).
		Msg("Engine stopped")
	return errors.Join(errs...)
}

// warmEntities resolves configured entity names, all types when empty
func warmEntities(names []string) ([]counter.EntityType, error) {
	if len(names) == 0 {
		return counter.EntityTypes(), nil
	}
	out := make([]counter.EntityType, 0, len(names))
	for _, n := range names {
		e, err := counter.ParseEntityType(n)
		if err != nil {
			return nil, fmt.Errorf("counter warm-up: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// release closes owned resources; safe on a partially built engine
func (e *Engine) release() {
	if e.repo != nil {
		e.repo.Close()
	}
	if e.outbox != nil {
		e.outbox.Stop()
	}
	e.hub.Close()
	if e.durable != nil {
		if err := e.durable.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close counter store")
		}
	}
}

// Counters returns the counter repository
func (e *Engine) Counters() *counter.Repository { return e.repo }

// Coordinator returns the transaction coordinator
func (e *Engine) Coordinator() *txn.Coordinator { return e.txc }

// Monitor returns the per-type event statistics
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// Hub returns the in-process notification fan-out
func (e *Engine) Hub() *notify.Hub { return e.hub }

// Router returns the handler chain
func (e *Engine) Router() *dispatch.Router { return e.router }

// Count reads one counter
func (e *Engine) Count(ctx context.Context, entity counter.EntityType, id int64) (int64, error) {
	return e.repo.Get(ctx, counter.NewKey(entity, id))
}

// Reconcile forces a reconciliation pass
func (e *Engine) Reconcile(ctx context.Context) (counter.ReconcileResult, error) {
	return e.repo.Reconcile(ctx)
}

// Transact runs fn in a coordinated transaction; see txn.Coordinator.Execute
func (e *Engine) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.txc.Execute(ctx, fn)
}

// QueueDepth implements telemetry.StatsProvider
func (e *Engine) QueueDepth() int64 { return e.queue.Depth() }

// DirtyKeys implements telemetry.StatsProvider
func (e *Engine) DirtyKeys() int { return e.repo.DirtyKeys() }

// CachedKeys implements telemetry.StatsProvider
func (e *Engine) CachedKeys() int { return e.repo.CachedKeys() }

// Stats is the admin view of the engine
type Stats struct {
	Events       monitor.Snapshot `json:"events"`
	QueueDepth   int64            `json:"queue_depth"`
	Capacity     int64            `json:"queue_capacity"`
	Backpressure int64            `json:"queue_backpressure"`
	Discarded    int64            `json:"discarded"`
	DirtyKeys    int              `json:"dirty_keys"`
	CachedKeys   int              `json:"cached_keys"`
	Subscribers  int              `json:"notify_subscribers"`
	OutboxLag    uint64           `json:"outbox_pending"`
}

// Stats returns a point-in-time view of queue, counter and event state
func (e *Engine) Stats() Stats {
	s := Stats{
		Events:       e.monitor.Snapshot(),
		QueueDepth:   e.queue.Depth(),
		Capacity:     e.queue.Capacity(),
		Backpressure: e.queue.BackpressureCount(),
		Discarded:    e.pool.Discarded(),
		DirtyKeys:    e.repo.DirtyKeys(),
		CachedKeys:   e.repo.CachedKeys(),
		Subscribers:  e.hub.Subscribers(),
	}
	if e.outbox != nil {
		s.OutboxLag = e.outbox.MaxPending()
	}
	return s
}

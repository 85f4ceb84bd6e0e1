package counter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/engage/telemetry"
)

// valueSource supplies the value to persist at flush time, so several
// mutations of one key between flushes collapse into a single write.
type valueSource func(key Key) (int64, bool)

// batchWriter groups write-through updates into one durable round trip.
type batchWriter struct {
	store  Store
	source valueSource
	// syncMu, when set, orders this writer's durable writes with reconcile passes
	syncMu *sync.Mutex

	mu      sync.Mutex
	pending map[Key][]*future.Promise[struct{}]
	closed  bool

	maxBatchSize int
	maxWaitTime  time.Duration

	kickCh  chan struct{}
	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

func newBatchWriter(store Store, source valueSource, maxBatchSize int, maxWaitTime time.Duration) *batchWriter {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	if maxWaitTime <= 0 {
		maxWaitTime = time.Millisecond
	}
	return &batchWriter{
		store:        store,
		source:       source,
		pending:      make(map[Key][]*future.Promise[struct{}]),
		maxBatchSize: maxBatchSize,
		maxWaitTime:  maxWaitTime,
		kickCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

func (bw *batchWriter) Start() {
	bw.wg.Add(1)
	go bw.flushLoop()
}

// Stop flushes whatever is queued and waits for the loop to exit.
func (bw *batchWriter) Stop() {
	if !bw.stopped.CompareAndSwap(false, true) {
		return
	}
	bw.mu.Lock()
	bw.closed = true
	bw.mu.Unlock()
	close(bw.stopCh)
	bw.wg.Wait()
	bw.tryFlush()
}

// Enqueue schedules key for the next flush.
func (bw *batchWriter) Enqueue(key Key) *future.Future[struct{}] {
	p := future.NewPromise[struct{}]()

	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		p.Set(struct{}{}, ErrWriterStopped)
		return p.Future()
	}
	bw.pending[key] = append(bw.pending[key], p)
	full := len(bw.pending) >= bw.maxBatchSize
	bw.mu.Unlock()

	if full {
		select {
		case bw.kickCh <- struct{}{}:
		default:
		}
	}
	return p.Future()
}

func (bw *batchWriter) flushLoop() {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.maxWaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bw.tryFlush()
		case <-bw.kickCh:
			bw.tryFlush()
		case <-bw.stopCh:
			bw.tryFlush()
			return
		}
	}
}

func (bw *batchWriter) tryFlush() {
	bw.mu.Lock()
	if len(bw.pending) == 0 {
		bw.mu.Unlock()
		return
	}
	batch := bw.pending
	bw.pending = make(map[Key][]*future.Promise[struct{}])
	bw.mu.Unlock()

	bw.flush(batch)
}

func (bw *batchWriter) flush(batch map[Key][]*future.Promise[struct{}]) {
	if bw.syncMu != nil {
		bw.syncMu.Lock()
		defer bw.syncMu.Unlock()
	}

	values := make(map[Key]int64, len(batch))
	for k := range batch {
		if v, ok := bw.source(k); ok {
			values[k] = v
		}
	}

	telemetry.CounterBatchSize.Observe(float64(len(values)))
	start := time.Now()
	failed := writeAll(context.Background(), bw.store, values)
	telemetry.CounterStoreSeconds.With("write_batch").Observe(time.Since(start).Seconds())

	for k, promises := range batch {
		var err error
		if e, ok := failed[k]; ok {
			err = &StoreError{Op: "write", Key: k, Err: e}
		}
		for _, p := range promises {
			p.Set(struct{}{}, err)
		}
	}
}

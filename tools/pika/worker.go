package main

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Worker is one producer publishing generated events.
type Worker struct {
	id         int
	pub        Publisher
	pop        Population
	opSelector *OpSelector
	stats      *Stats
	ledger     *Ledger
	comments   *atomic.Int64
	rng        *rand.Rand
}

// NewWorker creates a new worker.
func NewWorker(id int, pub Publisher, pop Population, dist WorkloadDistribution, stats *Stats, ledger *Ledger, comments *atomic.Int64, seed int64) *Worker {
	return &Worker{
		id:         id,
		pub:        pub,
		pop:        pop,
		opSelector: NewOpSelector(dist, seed+int64(id)),
		stats:      stats,
		ledger:     ledger,
		comments:   comments,
		rng:        rand.New(rand.NewSource(seed + int64(id)*7919)),
	}
}

// Run publishes until budget is exhausted or ctx ends. budget is shared
// between workers; a nil budget runs until ctx ends.
func (w *Worker) Run(ctx context.Context, budget *atomic.Int64, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		if budget != nil && budget.Add(-1) < 0 {
			return
		}

		op := NextOperation(w.opSelector.Select(), w.pop, w.rng, func() int64 { return w.comments.Add(1) })

		start := time.Now()
		err := ExecuteOp(ctx, w.pub, op)
		latency := time.Since(start)

		if err != nil {
			w.stats.RecordError(op.Type)
			continue
		}
		w.stats.RecordOp(op.Type, latency)
		w.ledger.Record(op)
	}
}

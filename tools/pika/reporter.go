package main

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/engage/engine"
)

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, stats *Stats, eng *engine.Engine) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastSnapshot Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			elapsed := time.Since(startTime)
			es := eng.Stats()

			fmt.Printf("[%5.0fs] events/sec: %7d | published: %9d | processed: %9d | queue: %5d | errors: %4d | throughput: %.1f events/sec\n",
				elapsed.Seconds(),
				snapshot.Ops-lastSnapshot.Ops,
				snapshot.Ops,
				es.Events.Totals.Processed,
				es.QueueDepth,
				snapshot.Errors,
				float64(snapshot.Ops)/elapsed.Seconds(),
			)

			lastSnapshot = snapshot
		}
	}
}

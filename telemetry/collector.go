package telemetry

import (
	"sync"
	"time"
)

// StatsProvider is implemented by components that expose sampled gauges
type StatsProvider interface {
	QueueDepth() int64
	DirtyKeys() int
	CachedKeys() int
}

// PendingProvider reports undelivered outbox records
type PendingProvider interface {
	MaxPending() uint64
}

// MetricsCollector periodically samples stats and updates telemetry gauges
type MetricsCollector struct {
	stats    StatsProvider
	pending  PendingProvider
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector; pending may be nil
func NewMetricsCollector(stats StatsProvider, pending PendingProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		stats:    stats,
		pending:  pending,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.stats != nil {
		QueueDepth.Set(float64(mc.stats.QueueDepth()))
		CounterDirtyKeys.Set(float64(mc.stats.DirtyKeys()))
		CounterCachedKeys.Set(float64(mc.stats.CachedKeys()))
	}
	if mc.pending != nil {
		OutboxPending.Set(float64(mc.pending.MaxPending()))
	}
}

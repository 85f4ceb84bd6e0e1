package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// HandlerBuckets for in-process event handling
	HandlerBuckets = []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

	// StoreBuckets for durable store round trips
	StoreBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// SyncBuckets for reconciliation passes
	SyncBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}

	// BatchSizeBuckets for grouped durable writes
	BatchSizeBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512}
)

// Event pipeline metrics
var (
	// EventsPublishedTotal counts events accepted by the queue by type
	EventsPublishedTotal CounterVec = noopCounterVec{}

	// EventsProcessedTotal counts events handled without error by type
	EventsProcessedTotal CounterVec = noopCounterVec{}

	// EventsFailedTotal counts events whose handler chain failed or panicked by type
	EventsFailedTotal CounterVec = noopCounterVec{}

	// BackpressureTotal counts producer claims that found the ring full
	BackpressureTotal CounterVec = noopCounterVec{}

	// BackpressureWaitSeconds measures how long producers waited for a slot
	BackpressureWaitSeconds Histogram = NoopStat{}

	// QueueDepth tracks claimed but not yet consumed slots
	QueueDepth Gauge = NoopStat{}

	// HandlerDurationSeconds measures time spent in each handler
	HandlerDurationSeconds HistogramVec = noopHistogramVec{}
)

// Counter repository metrics
var (
	// CounterCacheTotal counts cache lookups by result (hit, miss, negative)
	CounterCacheTotal CounterVec = noopCounterVec{}

	// CounterStoreErrorsTotal counts durable store failures by operation
	CounterStoreErrorsTotal CounterVec = noopCounterVec{}

	// CounterStoreSeconds measures durable store latency by operation
	CounterStoreSeconds HistogramVec = noopHistogramVec{}

	// CounterBatchSize measures keys per grouped durable write
	CounterBatchSize Histogram = NoopStat{}

	// CounterDirtyKeys tracks keys awaiting reconciliation
	CounterDirtyKeys Gauge = NoopStat{}

	// CounterCachedKeys tracks resident cache entries
	CounterCachedKeys Gauge = NoopStat{}

	// ReconcileRoundsTotal counts reconciliation passes by result
	ReconcileRoundsTotal CounterVec = noopCounterVec{}

	// ReconcileKeysTotal counts keys pushed during reconciliation by result
	ReconcileKeysTotal CounterVec = noopCounterVec{}

	// ReconcileDurationSeconds measures reconciliation pass duration
	ReconcileDurationSeconds Histogram = NoopStat{}
)

// Transaction metrics
var (
	// TxnTotal counts transactions by outcome (committed, rolled_back, rollback_only, commit_failed)
	TxnTotal CounterVec = noopCounterVec{}

	// TxnParticipantFailuresTotal counts participant failures by phase (begin, commit, rollback)
	TxnParticipantFailuresTotal CounterVec = noopCounterVec{}

	// ActiveTransactions tracks currently active transactions
	ActiveTransactions Gauge = NoopStat{}
)

// Notification metrics
var (
	// NotificationsTotal counts notification records by type and result (saved, skipped, failed)
	NotificationsTotal CounterVec = noopCounterVec{}

	// SinkPublishTotal counts outbox deliveries by sink and result
	SinkPublishTotal CounterVec = noopCounterVec{}

	// OutboxPending tracks undelivered records for the slowest sink
	OutboxPending Gauge = NoopStat{}
)

// InitMetrics initializes all metrics after telemetry is initialized
func InitMetrics() {
	EventsPublishedTotal = NewCounterVec(
		"events_published_total",
		"Events accepted by the queue by type",
		[]string{"type"},
	)
	EventsProcessedTotal = NewCounterVec(
		"events_processed_total",
		"Events processed successfully by type",
		[]string{"type"},
	)
	EventsFailedTotal = NewCounterVec(
		"events_failed_total",
		"Events whose handler chain failed by type",
		[]string{"type"},
	)
	BackpressureTotal = NewCounterVec(
		"backpressure_total",
		"Producer claims that waited for a free slot by type",
		[]string{"type"},
	)
	BackpressureWaitSeconds = NewHistogramWithBuckets(
		"backpressure_wait_seconds",
		"Time producers spent waiting for a free slot",
		HandlerBuckets,
	)
	QueueDepth = NewGauge(
		"queue_depth",
		"Claimed slots not yet consumed",
	)
	HandlerDurationSeconds = NewHistogramVec(
		"handler_duration_seconds",
		"Handler execution time by handler",
		[]string{"handler"},
		HandlerBuckets,
	)

	CounterCacheTotal = NewCounterVec(
		"counter_cache_total",
		"Counter cache lookups by result",
		[]string{"result"},
	)
	CounterStoreErrorsTotal = NewCounterVec(
		"counter_store_errors_total",
		"Durable counter store failures by operation",
		[]string{"op"},
	)
	CounterStoreSeconds = NewHistogramVec(
		"counter_store_seconds",
		"Durable counter store latency by operation",
		[]string{"op"},
		StoreBuckets,
	)
	CounterBatchSize = NewHistogramWithBuckets(
		"counter_batch_size",
		"Keys per grouped durable write",
		BatchSizeBuckets,
	)
	CounterDirtyKeys = NewGauge(
		"counter_dirty_keys",
		"Counter keys awaiting reconciliation",
	)
	CounterCachedKeys = NewGauge(
		"counter_cached_keys",
		"Counter entries resident in cache",
	)
	ReconcileRoundsTotal = NewCounterVec(
		"reconcile_rounds_total",
		"Reconciliation passes by result",
		[]string{"result"},
	)
	ReconcileKeysTotal = NewCounterVec(
		"reconcile_keys_total",
		"Keys pushed during reconciliation by result",
		[]string{"result"},
	)
	ReconcileDurationSeconds = NewHistogramWithBuckets(
		"reconcile_duration_seconds",
		"Reconciliation pass duration in seconds",
		SyncBuckets,
	)

	TxnTotal = NewCounterVec(
		"txn_total",
		"Transactions by outcome",
		[]string{"outcome"},
	)
	TxnParticipantFailuresTotal = NewCounterVec(
		"txn_participant_failures_total",
		"Participant failures by phase",
		[]string{"phase"},
	)
	ActiveTransactions = NewGauge(
		"active_transactions",
		"Number of currently active transactions",
	)

	NotificationsTotal = NewCounterVec(
		"notifications_total",
		"Notification records by type and result",
		[]string{"type", "result"},
	)
	SinkPublishTotal = NewCounterVec(
		"sink_publish_total",
		"Outbox deliveries by sink and result",
		[]string{"sink", "result"},
	)
	OutboxPending = NewGauge(
		"outbox_pending",
		"Undelivered outbox records for the slowest sink",
	)
}

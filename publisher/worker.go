package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/engage/notify"
	"github.com/maxpert/engage/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default batch size for reading records per poll cycle
	DefaultBatchSize = 100
	// Default interval between poll cycles
	DefaultPollInterval = 100 * time.Millisecond
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Retry attempts per record before the worker backs off and rereads
	DefaultMaxRetries = 100
)

var errWorkerStopped = errors.New("worker stopped")

// WorkerConfig configures a sink worker
type WorkerConfig struct {
	Name            string        // Sink name (for cursor tracking)
	Log             *PublishLog   // Outbox log to read from
	Sink            Sink          // Destination sink
	Transformer     Transformer   // Record encoder
	Filter          Filter        // Record filter
	TopicPrefix     string        // Topic prefix (e.g., "engage")
	BatchSize       int           // Records per poll cycle
	PollInterval    time.Duration // Poll interval
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Attempts per record before backing off
}

// Worker polls the outbox log and publishes records to one sink
type Worker struct {
	config      WorkerConfig
	cursor      atomic.Uint64
	ctx         context.Context
	cancel      context.CancelFunc
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker creates a new sink worker positioned at its persisted cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Log == nil {
		return nil, fmt.Errorf("outbox log is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.GetCursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	// A new sink starts at the earliest retained entry
	if cursor == 0 {
		earliest, err := findEarliestEntry(config.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to find earliest entry: %w", err)
		}
		cursor = earliest
	}

	w := &Worker{config: config}
	w.cursor.Store(cursor)
	return w, nil
}

func findEarliestEntry(pubLog *PublishLog) (uint64, error) {
	recs, err := pubLog.ReadFrom(0, 1)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	// ReadFrom reads from cursor+1
	return recs[0].ID - 1, nil
}

// Name returns the sink name
func (w *Worker) Name() string {
	return w.config.Name
}

// Cursor returns the last delivered sequence
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Uint64("cursor", w.cursor.Load()).
		Msg("Starting outbox sink worker")

	go w.pollLoop()
}

// Stop stops the worker and waits for the poll loop to exit
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	w.cancel()
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Uint64("cursor", w.cursor.Load()).Msg("Outbox sink worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for w.ctx.Err() == nil {
		recs, err := w.config.Log.ReadFrom(w.cursor.Load(), w.config.BatchSize)
		if err != nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Uint64("cursor", w.cursor.Load()).
				Msg("Failed to read from outbox log")
			w.sleep(w.config.PollInterval)
			continue
		}

		if len(recs) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for _, rec := range recs {
			if err := w.processRecord(rec); err != nil {
				if !errors.Is(err, errWorkerStopped) {
					log.Error().
						Err(err).
						Str("worker", w.config.Name).
						Uint64("seq", rec.ID).
						Msg("Failed to deliver record, backing off")
					w.sleep(w.config.RetryMax)
				}
				break
			}
			w.cursor.Store(rec.ID)
		}
	}
}

// processRecord delivers one record.
// Delivery is at-least-once: publish first, then advance the cursor.
// Filtered records advance the cursor without publishing.
func (w *Worker) processRecord(rec notify.Record) error {
	if !w.config.Filter.Match(string(rec.Type)) {
		telemetry.SinkPublishTotal.With(w.config.Name, "filtered").Inc()
		w.advance(rec.ID)
		return nil
	}

	data, err := w.config.Transformer.Transform(rec)
	if err != nil {
		// An unencodable record never becomes encodable; skip it.
		log.Error().Err(err).Str("worker", w.config.Name).Uint64("seq", rec.ID).Msg("Failed to transform record")
		telemetry.SinkPublishTotal.With(w.config.Name, "dropped").Inc()
		w.advance(rec.ID)
		return nil
	}

	topic := w.buildTopic(rec.Type)
	key := strconv.FormatInt(rec.ReceiverID, 10)
	if err := w.publishWithRetry(topic, key, data); err != nil {
		return err
	}

	telemetry.SinkPublishTotal.With(w.config.Name, "ok").Inc()
	w.advance(rec.ID)
	return nil
}

func (w *Worker) advance(seq uint64) {
	if err := w.config.Log.AdvanceCursor(w.config.Name, seq); err != nil {
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Uint64("seq", seq).
			Msg("Failed to advance cursor, record may be redelivered")
	}
}

// buildTopic builds the topic name for a record type, e.g. "engage.notify.like"
func (w *Worker) buildTopic(t notify.Type) string {
	name := "notify." + strings.ToLower(string(t))
	if w.config.TopicPrefix == "" {
		return name
	}
	return w.config.TopicPrefix + "." + name
}

func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(w.ctx, topic, key, data)
		if err == nil {
			return nil
		}
		if w.ctx.Err() != nil {
			return errWorkerStopped
		}

		attempts++
		telemetry.SinkPublishTotal.With(w.config.Name, "retry").Inc()
		if attempts >= w.config.MaxRetries {
			telemetry.SinkPublishTotal.With(w.config.Name, "failed").Inc()
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish record, retrying")

		if !w.sleep(delay) {
			return errWorkerStopped
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep returns false if the worker was stopped first
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

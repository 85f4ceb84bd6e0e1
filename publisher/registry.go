package publisher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/maxpert/engage/cfg"
	"github.com/maxpert/engage/notify"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the outbox registry
type RegistryConfig struct {
	DataDir           string                  // Parent directory of the outbox log
	FS                vfs.FS                  // Optional filesystem override
	Sinks             []cfg.SinkConfiguration // From config
	Hub               *notify.Hub             // In-process fan-out, optional
	CompressThreshold int                     // Record size that triggers zstd
	Retention         time.Duration           // Age after which entries are trimmed, 0 keeps forever
	CleanupInterval   time.Duration           // How often retention trimming runs
}

// Registry owns the outbox log and the lifecycle of all sink workers
type Registry struct {
	log     *PublishLog
	outbox  *Outbox
	workers []*Worker
	config  RegistryConfig
	running atomic.Bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRegistry opens the outbox log and builds a worker per sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	pubLog, err := NewPublishLog(config.DataDir, LogOptions{
		FS:                config.FS,
		CompressThreshold: config.CompressThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox log: %w", err)
	}

	registry := &Registry{
		log:     pubLog,
		outbox:  NewOutbox(pubLog, config.Hub),
		workers: make([]*Worker, 0, len(config.Sinks)),
		config:  config,
	}

	for _, sinkCfg := range config.Sinks {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			pubLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Notification outbox initialized")

	return registry, nil
}

// AddSink creates and adds a worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	return r.AddSinkWith(config, snk)
}

// AddSinkWith adds a worker delivering to an already constructed sink.
// The registry takes ownership of snk.
func (r *Registry) AddSinkWith(config cfg.SinkConfiguration, snk Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	format := config.Format
	if format == "" {
		format = "json"
	}
	trans, err := createTransformer(format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterTypes)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", format).
		Msg("Added notification sink")

	return nil
}

// Outbox returns the Port that appends to this registry's log
func (r *Registry) Outbox() *Outbox {
	return r.outbox
}

// Log returns the underlying outbox log
func (r *Registry) Log() *PublishLog {
	return r.log
}

// MaxPending implements telemetry.PendingProvider
func (r *Registry) MaxPending() uint64 {
	return r.log.MaxPending()
}

// Start starts all workers and the retention janitor
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	for _, worker := range r.workers {
		worker.Start()
	}

	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.janitor()

	r.running.Store(true)
	return nil
}

// Stop stops all workers and closes the outbox log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Swap(false) {
		close(r.stopCh)
		<-r.doneCh
		for _, worker := range r.workers {
			worker.Stop()
		}
	}

	for _, worker := range r.workers {
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.Name()).Msg("Failed to close sink")
		}
	}
	r.workers = nil

	if err := r.log.Close(); err != nil && !errors.Is(err, ErrLogClosed) {
		log.Warn().Err(err).Msg("Failed to close outbox log")
	}

	log.Info().Msg("Notification outbox stopped")
}

func (r *Registry) janitor() {
	defer close(r.doneCh)
	if r.config.Retention <= 0 {
		<-r.stopCh
		return
	}

	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			n, err := r.log.Trim(time.Now().Add(-r.config.Retention))
			if err != nil {
				log.Warn().Err(err).Msg("Outbox retention trim failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("removed", n).Msg("Trimmed expired outbox entries")
			}
		}
	}
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}

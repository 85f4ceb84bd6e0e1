package dispatch

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/engage/event"
	"github.com/maxpert/engage/ring"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWorkers is used when PoolConfig.Workers is not set
	DefaultWorkers = 4
)

var (
	ErrPoolRunning = errors.New("dispatch: pool already started")
	ErrPoolStopped = errors.New("dispatch: pool was stopped and cannot restart")
)

// ProcessedRecorder is told about every event that went through the chain cleanly
type ProcessedRecorder interface {
	RecordProcessed(t event.Type, took time.Duration)
}

// PoolConfig wires a worker pool
type PoolConfig struct {
	Workers   int
	Queue     *ring.Queue[event.Event]
	Router    *Router
	Sink      ExceptionSink
	Processed ProcessedRecorder
}

// Pool runs a fixed set of workers that share one work sequence. Each
// published event is handled by exactly one worker.
type Pool struct {
	queue     *ring.Queue[event.Event]
	router    *Router
	sink      ExceptionSink
	processed ProcessedRecorder

	workSeq     *ring.Sequence
	workers     []*ring.Sequence
	drainTarget atomic.Int64
	halted      atomic.Bool
	discarded   atomic.Int64

	lifecycleMu sync.Mutex
	running     atomic.Bool
	stopped     bool
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewPool creates the pool and registers its gating sequences on the queue.
func NewPool(c PoolConfig) *Pool {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Sink == nil {
		c.Sink = NewLoggingSink(nil)
	}

	p := &Pool{
		queue:     c.Queue,
		router:    c.Router,
		sink:      c.Sink,
		processed: c.Processed,
		workSeq:   ring.NewSequence(ring.InitialSequence),
		workers:   make([]*ring.Sequence, c.Workers),
	}
	p.drainTarget.Store(math.MaxInt64)
	for i := range p.workers {
		p.workers[i] = ring.NewSequence(ring.InitialSequence)
	}

	gating := append([]*ring.Sequence{p.workSeq}, p.workers...)
	p.queue.AddGatingSequences(gating...)
	return p
}

// Start launches the workers
func (p *Pool) Start() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running.Load() {
		return ErrPoolRunning
	}
	if p.stopped {
		return ErrPoolStopped
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running.Store(true)
	for _, seq := range p.workers {
		p.wg.Add(1)
		go p.run(seq)
	}

	log.Info().Int("workers", len(p.workers)).Msg("Worker pool started")
	return nil
}

// Stop closes the queue to new claims and waits for every claimed event to
// be handled. If ctx ends first the workers are halted and whatever is
// still unhandled is discarded; ctx.Err() is returned in that case.
func (p *Pool) Stop(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running.Load() {
		return nil
	}

	target := p.queue.Close()
	p.drainTarget.Store(target)
	p.queue.WaitStrategy().Signal()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.halted.Store(true)
		p.cancel()
		p.queue.WaitStrategy().Signal()
		<-done
		if rest := target - p.workSeq.Get(); rest > 0 {
			p.discarded.Add(rest)
		}
	}
	p.cancel()

	p.running.Store(false)
	p.stopped = true

	log.Info().
		Int64("drain_target", target).
		Int64("discarded", p.discarded.Load()).
		Err(err).
		Msg("Worker pool stopped")
	return err
}

// Running reports whether workers are active
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Discarded returns how many claimed sequences were dropped by a timed out Stop
func (p *Pool) Discarded() int64 {
	return p.discarded.Load()
}

func (p *Pool) run(seq *ring.Sequence) {
	defer p.wg.Done()
	defer seq.Set(math.MaxInt64)

	wait := p.queue.WaitStrategy()
	next := ring.InitialSequence
	processed := true
	ready := func() bool {
		return p.queue.IsPublished(next) || p.halted.Load() || next > p.drainTarget.Load()
	}

	for {
		if processed {
			processed = false
			for {
				next = p.workSeq.Get() + 1
				seq.Set(next - 1)
				if next > p.drainTarget.Load() || p.halted.Load() {
					return
				}
				if p.workSeq.CompareAndSet(next-1, next) {
					break
				}
			}
		}

		err := wait.WaitUntil(p.ctx, ready)

		if !p.queue.IsPublished(next) {
			if err != nil || p.halted.Load() {
				if next <= p.drainTarget.Load() {
					p.discarded.Add(1)
				}
				return
			}
			if next > p.drainTarget.Load() {
				return
			}
			continue
		}

		p.process(next)
		processed = true
		// Advance the gating sequence before waking producers so a woken
		// producer sees the freed slot.
		seq.Set(next)
		p.queue.Release()
	}
}

func (p *Pool) process(seq int64) {
	ev := p.queue.Get(seq)
	start := time.Now()

	if err := p.dispatch(ev); err != nil {
		p.sink.HandleEventException(err, seq, ev)
	} else if p.processed != nil {
		p.processed.RecordProcessed(ev.Type, time.Since(start))
	}
	ev.Reset()
}

func (p *Pool) dispatch(ev *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return p.router.Dispatch(p.ctx, ev)
}

package counter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultSyncInterval = 5 * time.Minute

// Reconciler runs Repository.Reconcile and idle eviction on a fixed interval
type Reconciler struct {
	repo     *Repository
	interval time.Duration

	lifecycleMu sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func NewReconciler(repo *Repository, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Reconciler{repo: repo, interval: interval}
}

func (rc *Reconciler) Start() {
	rc.lifecycleMu.Lock()
	defer rc.lifecycleMu.Unlock()

	if rc.running {
		return
	}
	rc.running = true
	rc.stopCh = make(chan struct{})
	rc.doneCh = make(chan struct{})
	go rc.loop()

	log.Info().Dur("interval", rc.interval).Msg("Counter reconciler started")
}

// Stop halts the loop and runs one final pass bounded by ctx
func (rc *Reconciler) Stop(ctx context.Context) error {
	rc.lifecycleMu.Lock()
	defer rc.lifecycleMu.Unlock()

	if !rc.running {
		return nil
	}
	close(rc.stopCh)
	<-rc.doneCh
	rc.running = false

	_, err := rc.repo.Reconcile(ctx)
	return err
}

func (rc *Reconciler) loop() {
	defer close(rc.doneCh)

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.tick()
		case <-rc.stopCh:
			return
		}
	}
}

func (rc *Reconciler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), rc.interval)
	defer cancel()

	if _, err := rc.repo.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("Counter reconcile pass interrupted")
	}
	if n := rc.repo.EvictIdle(); n > 0 {
		log.Debug().Int("evicted", n).Msg("Evicted idle counters")
	}
}

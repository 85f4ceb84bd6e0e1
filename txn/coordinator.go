// Package txn sequences commit and rollback across participants that each
// own their own local transaction.
//
// Participants commit in reverse registration order. The first commit
// failure rolls every participant back in registration order. Rollback
// failures are logged and never stop the remaining rollbacks. This is
// best effort compensation, not two-phase commit: a participant that
// committed before the failure is expected to undo itself in Rollback.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/maxpert/engage/id"
	"github.com/maxpert/engage/telemetry"
	"github.com/rs/zerolog/log"
)

// State of a transaction
type State int

const (
	StateNone State = iota
	StateActive
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	}
	return "NONE"
}

// Participant is one independently transactional resource
type Participant interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BeginHook is implemented by participants that prepare when registered
type BeginHook interface {
	Begin(ctx context.Context) error
}

// Named participants show up by name in logs and errors
type Named interface {
	Name() string
}

func participantName(p Participant) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}

// Transaction is scoped to one call chain and carried in its context
type Transaction struct {
	ID uint64

	mu           sync.Mutex
	state        State
	participants []Participant
	rollbackOnly bool
}

// State returns the current state
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Participants returns how many participants are registered
func (t *Transaction) Participants() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.participants)
}

// SetRollbackOnly makes the next Commit roll back instead
func (t *Transaction) SetRollbackOnly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbackOnly = true
}

// IsRollbackOnly reports whether SetRollbackOnly was called or a commit failed
func (t *Transaction) IsRollbackOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbackOnly
}

// Coordinator creates transactions and drives their participants
type Coordinator struct {
	ids id.Generator
}

func NewCoordinator(ids id.Generator) *Coordinator {
	return &Coordinator{ids: ids}
}

// Begin starts a transaction and returns a context carrying it
func (c *Coordinator) Begin(ctx context.Context) (context.Context, *Transaction) {
	t := &Transaction{ID: c.ids.NextID(), state: StateActive}
	telemetry.ActiveTransactions.Inc()
	log.Debug().Uint64("txn_id", t.ID).Msg("Transaction started")
	return withTransaction(ctx, t), t
}

// Register adds p to the transaction in ctx. A BeginHook failure is logged
// and the participant stays registered.
func (c *Coordinator) Register(ctx context.Context, p Participant) error {
	if p == nil {
		return ErrNilParticipant
	}
	t := FromContext(ctx)
	if t == nil {
		return ErrNoTransaction
	}

	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return ErrNotActive
	}
	t.participants = append(t.participants, p)
	t.mu.Unlock()

	if h, ok := p.(BeginHook); ok {
		if err := h.Begin(ctx); err != nil {
			telemetry.TxnParticipantFailuresTotal.With("begin").Inc()
			log.Warn().
				Err(err).
				Uint64("txn_id", t.ID).
				Str("participant", participantName(p)).
				Msg("Participant begin hook failed")
		}
	}
	return nil
}

// SetRollbackOnly marks the transaction in ctx
func (c *Coordinator) SetRollbackOnly(ctx context.Context) error {
	t := FromContext(ctx)
	if t == nil {
		return ErrNoTransaction
	}
	t.SetRollbackOnly()
	return nil
}

// Commit commits every participant in reverse registration order. A
// rollback-only transaction is rolled back and ErrRollbackOnly returned.
// The first participant failure rolls everything back and returns a
// *CommitError.
func (c *Coordinator) Commit(ctx context.Context) error {
	t := FromContext(ctx)
	if t == nil {
		return ErrNoTransaction
	}

	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return ErrNotActive
	}
	rollbackOnly := t.rollbackOnly
	participants := t.participants
	t.mu.Unlock()

	if rollbackOnly {
		c.rollback(ctx, t, "rollback_only")
		return ErrRollbackOnly
	}

	for i := len(participants) - 1; i >= 0; i-- {
		p := participants[i]
		if err := p.Commit(ctx); err != nil {
			t.SetRollbackOnly()
			telemetry.TxnParticipantFailuresTotal.With("commit").Inc()
			log.Error().
				Err(err).
				Uint64("txn_id", t.ID).
				Str("participant", participantName(p)).
				Msg("Participant commit failed, rolling back")

			c.rollback(ctx, t, "commit_failed")
			return &CommitError{TxnID: t.ID, Participant: participantName(p), Index: i, Err: err}
		}
	}

	c.finish(t, StateCommitted, "committed")
	return nil
}

// Rollback rolls back every participant in registration order
func (c *Coordinator) Rollback(ctx context.Context) error {
	t := FromContext(ctx)
	if t == nil {
		return ErrNoTransaction
	}
	if t.State() != StateActive {
		return ErrNotActive
	}
	c.rollback(ctx, t, "rolled_back")
	return nil
}

func (c *Coordinator) rollback(ctx context.Context, t *Transaction, outcome string) {
	t.mu.Lock()
	participants := t.participants
	t.mu.Unlock()

	for _, p := range participants {
		if err := p.Rollback(ctx); err != nil {
			telemetry.TxnParticipantFailuresTotal.With("rollback").Inc()
			log.Error().
				Err(err).
				Uint64("txn_id", t.ID).
				Str("participant", participantName(p)).
				Msg("Participant rollback failed")
		}
	}

	c.finish(t, StateRolledBack, outcome)
}

// finish sets the terminal state and drops participant references
func (c *Coordinator) finish(t *Transaction, s State, outcome string) {
	t.mu.Lock()
	t.state = s
	t.participants = nil
	t.mu.Unlock()

	telemetry.ActiveTransactions.Dec()
	telemetry.TxnTotal.With(outcome).Inc()
	log.Debug().Uint64("txn_id", t.ID).Str("state", s.String()).Msg("Transaction finished")
}

// Execute runs fn inside a new transaction. fn's error or panic rolls back;
// otherwise the transaction commits and Commit's error is returned.
func (c *Coordinator) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	txCtx, t := c.Begin(ctx)

	defer func() {
		if r := recover(); r != nil {
			if t.State() == StateActive {
				c.rollback(txCtx, t, "rolled_back")
			}
			err = &PanicError{Value: r}
		}
	}()

	if err := fn(txCtx); err != nil {
		if t.State() == StateActive {
			c.rollback(txCtx, t, "rolled_back")
		}
		return err
	}

	if t.State() != StateActive {
		// fn finished the transaction itself
		return nil
	}
	return c.Commit(txCtx)
}

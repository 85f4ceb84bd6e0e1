package counter

import (
	"context"
	"fmt"
)

// Participant applies a counter delta when a coordinated transaction
// commits and compensates it on rollback. It satisfies txn.Participant.
type Participant struct {
	repo    *Repository
	key     Key
	delta   int64
	applied bool
	begun   bool
	before  int64
}

func NewParticipant(repo *Repository, key Key, delta int64) *Participant {
	return &Participant{repo: repo, key: key, delta: delta}
}

func (p *Participant) Name() string {
	return fmt.Sprintf("counter(%s%+d)", p.key, p.delta)
}

// Begin records the current value so a clamped decrement can be undone exactly
func (p *Participant) Begin(ctx context.Context) error {
	v, err := p.repo.Get(ctx, p.key)
	if err != nil {
		return err
	}
	p.before = v
	p.begun = true
	return nil
}

func (p *Participant) Commit(ctx context.Context) error {
	after, err := p.repo.Add(ctx, p.key, p.delta)
	if err != nil {
		return err
	}
	p.applied = true
	// A clamp means less than delta was applied; remember what actually moved
	if p.begun && p.delta < 0 && after == p.repo.floor && p.before-after < -p.delta {
		p.delta = after - p.before
	}
	return nil
}

// Rollback undoes a committed delta; a participant that never committed is a no-op
func (p *Participant) Rollback(ctx context.Context) error {
	if !p.applied {
		return nil
	}
	if _, err := p.repo.Add(ctx, p.key, -p.delta); err != nil {
		return err
	}
	p.applied = false
	return nil
}

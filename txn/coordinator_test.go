package txn

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/maxpert/engage/hlc"
	"github.com/maxpert/engage/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockParticipant struct {
	name        string
	log         *callLog
	commitErr   error
	rollbackErr error
}

func (m *mockParticipant) Name() string { return m.name }

func (m *mockParticipant) Commit(ctx context.Context) error {
	if m.commitErr != nil {
		m.log.add(m.name + ".commit(throws)")
		return m.commitErr
	}
	m.log.add(m.name + ".commit")
	return nil
}

func (m *mockParticipant) Rollback(ctx context.Context) error {
	m.log.add(m.name + ".rollback")
	return m.rollbackErr
}

type hookedParticipant struct {
	mockParticipant
	beginErr error
}

func (h *hookedParticipant) Begin(ctx context.Context) error {
	h.log.add(h.name + ".begin")
	return h.beginErr
}

func newCoordinator() *Coordinator {
	return NewCoordinator(id.NewHLCGenerator(hlc.NewClock(1)))
}

func TestCoordinator_CommitReverseOrder(t *testing.T) {
	c := newCoordinator()
	l := &callLog{}
	ctx, tx := c.Begin(context.Background())

	for _, n := range []string{"A", "B", "C"} {
		require.NoError(t, c.Register(ctx, &mockParticipant{name: n, log: l}))
	}
	assert.Equal(t, 3, tx.Participants())

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, []string{"C.commit", "B.commit", "A.commit"}, l.get())
	assert.Equal(t, StateCommitted, tx.State())
	assert.Equal(t, 0, tx.Participants(), "participants are discarded at the end")
	assert.False(t, Active(ctx))
}

func TestCoordinator_CommitFailureRollsBackAllForward(t *testing.T) {
	c := newCoordinator()
	l := &callLog{}
	ctx, tx := c.Begin(context.Background())

	boom := errors.New("boom")
	// Registered C, B, A so reverse-order commit reaches A first, then B
	require.NoError(t, c.Register(ctx, &mockParticipant{name: "C", log: l}))
	require.NoError(t, c.Register(ctx, &mockParticipant{name: "B", log: l, commitErr: boom}))
	require.NoError(t, c.Register(ctx, &mockParticipant{name: "A", log: l}))

	err := c.Commit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "B", ce.Participant)
	assert.Equal(t, tx.ID, ce.TxnID)

	assert.Equal(t, []string{
		"A.commit", "B.commit(throws)",
		"C.rollback", "B.rollback", "A.rollback",
	}, l.get())
	assert.NotContains(t, l.get(), "C.commit")
	assert.Equal(t, StateRolledBack, tx.State())
	assert.True(t, tx.IsRollbackOnly())
}

func TestCoordinator_CommitFailureFromRegistrationOrder(t *testing.T) {
	c := newCoordinator()
	l := &callLog{}
	ctx, _ := c.Begin(context.Background())

	require.NoError(t, c.Register(ctx, &mockParticipant{name: "A", log: l}))
	require.NoError(t, c.Register(ctx, &mockParticipant{name: "B", log: l, commitErr: errors.New("x")}))
	require.NoError(t, c.Register(ctx, &mockParticipant{name: "C", log: l}))

	require.Error(t, c.Commit(ctx))
	assert.Equal(t, []string{
		"C.commit", "B.commit(throws)",
		"A.rollback", "B.rollback", "C.rollback",
	}, l.get())
}

func TestCoordinator_RollbackFailuresDoNotStopOthers(t *testing.T) {
	c := newCoordinator()
	l := &callLog{}
	ctx, tx := c.Begin(context.Background())

	require.NoError(t, c.Register(ctx, &mockParticipant{name: "A", log: l, rollbackErr: errors.New("a")}))
	require.NoError(t, c.Register(ctx, &mockParticipant{name: "B", log: l, rollbackErr: errors.New("b")}))
	require.NoError(t, c.Register(ctx, &mockParticipant{name: "C", log: l}))

	require.NoError(t, c.Rollback(ctx))
	assert.Equal(t, []string{"A.rollback", "B.rollback", "C.rollback"}, l.get())
	assert.Equal(t, StateRolledBack, tx.State())
}

func TestCoordinator_RollbackOnly(t *testing.T) {
	c := newCoordinator()
	l := &callLog{}
	ctx, tx := c.Begin(context.Background())

	require.NoError(t, c.Register(ctx, &mockParticipant{name: "A", log: l}))
	require.NoError(t, c.Register(ctx, &mockParticipant{name: "B", log: l}))
	require.NoError(t, c.SetRollbackOnly(ctx))

	err := c.Commit(ctx)
	assert.ErrorIs(t, err, ErrRollbackOnly)
	assert.Equal(t, []string{"A.rollback", "B.rollback"}, l.get())
	assert.Equal(t, StateRolledBack, tx.State())
}

func TestCoordinator_BeginHook(t *testing.T) {
	c := newCoordinator()
	l := &callLog{}
	ctx, tx := c.Begin(context.Background())

	ok := &hookedParticipant{mockParticipant: mockParticipant{name: "A", log: l}}
	bad := &hookedParticipant{mockParticipant: mockParticipant{name: "B", log: l}, beginErr: errors.New("nope")}

	require.NoError(t, c.Register(ctx, ok))
	require.NoError(t, c.Register(ctx, bad), "begin hook failures are not fatal")
	assert.Equal(t, 2, tx.Participants())

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, []string{"A.begin", "B.begin", "B.commit", "A.commit"}, l.get())
}

func TestCoordinator_StateErrors(t *testing.T) {
	c := newCoordinator()
	bg := context.Background()

	assert.ErrorIs(t, c.Register(bg, &mockParticipant{}), ErrNoTransaction)
	assert.ErrorIs(t, c.Commit(bg), ErrNoTransaction)
	assert.ErrorIs(t, c.Rollback(bg), ErrNoTransaction)
	assert.ErrorIs(t, c.SetRollbackOnly(bg), ErrNoTransaction)
	assert.Nil(t, FromContext(bg))

	ctx, tx := c.Begin(bg)
	assert.Equal(t, StateActive, tx.State())
	assert.True(t, Active(ctx))
	assert.ErrorIs(t, c.Register(ctx, nil), ErrNilParticipant)

	require.NoError(t, c.Commit(ctx))
	assert.ErrorIs(t, c.Commit(ctx), ErrNotActive)
	assert.ErrorIs(t, c.Rollback(ctx), ErrNotActive)
	assert.ErrorIs(t, c.Register(ctx, &mockParticipant{}), ErrNotActive)
}

func TestCoordinator_IndependentTransactions(t *testing.T) {
	c := newCoordinator()
	ctx1, t1 := c.Begin(context.Background())
	ctx2, t2 := c.Begin(context.Background())

	assert.NotEqual(t, t1.ID, t2.ID)
	assert.Greater(t, t2.ID, t1.ID)
	l := &callLog{}
	require.NoError(t, c.Register(ctx1, &mockParticipant{name: "one", log: l}))
	assert.Equal(t, 0, t2.Participants())

	require.NoError(t, c.Rollback(ctx2))
	assert.Equal(t, StateActive, t1.State())
	require.NoError(t, c.Commit(ctx1))
	assert.Equal(t, []string{"one.commit"}, l.get())
}

func TestCoordinator_Execute(t *testing.T) {
	c := newCoordinator()
	bg := context.Background()

	t.Run("commits", func(t *testing.T) {
		l := &callLog{}
		err := c.Execute(bg, func(ctx context.Context) error {
			return c.Register(ctx, &mockParticipant{name: "A", log: l})
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"A.commit"}, l.get())
	})

	t.Run("error rolls back", func(t *testing.T) {
		l := &callLog{}
		fail := errors.New("business rule")
		err := c.Execute(bg, func(ctx context.Context) error {
			_ = c.Register(ctx, &mockParticipant{name: "A", log: l})
			return fail
		})
		assert.ErrorIs(t, err, fail)
		assert.Equal(t, []string{"A.rollback"}, l.get())
	})

	t.Run("panic rolls back", func(t *testing.T) {
		l := &callLog{}
		err := c.Execute(bg, func(ctx context.Context) error {
			_ = c.Register(ctx, &mockParticipant{name: "A", log: l})
			panic("bad")
		})
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, []string{"A.rollback"}, l.get())
	})

	t.Run("commit failure surfaces", func(t *testing.T) {
		l := &callLog{}
		err := c.Execute(bg, func(ctx context.Context) error {
			return c.Register(ctx, &mockParticipant{name: "A", log: l, commitErr: errors.New("x")})
		})
		var ce *CommitError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, []string{"A.commit(throws)", "A.rollback"}, l.get())
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "NONE", StateNone.String())
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "COMMITTED", StateCommitted.String())
	assert.Equal(t, "ROLLED_BACK", StateRolledBack.String())
}

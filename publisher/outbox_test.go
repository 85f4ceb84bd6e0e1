package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/maxpert/engage/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxSaveAssignsIDAndTimestamp(t *testing.T) {
	pl := newTestLog(t, 0)
	o := NewOutbox(pl, nil)
	fixed := time.UnixMilli(1700000000000)
	o.now = func() time.Time { return fixed }

	require.NoError(t, o.Save(context.Background(), like(1, 2, 3)))

	recs, err := pl.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), recs[0].ID)
	assert.Equal(t, fixed.UnixMilli(), recs[0].CreatedAt)
}

func TestOutboxSaveHonoursContext(t *testing.T) {
	pl := newTestLog(t, 0)
	o := NewOutbox(pl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, o.Save(ctx, like(1, 2, 3)), context.Canceled)
	assert.Zero(t, pl.LastSeq())
}

func TestOutboxSaveFailsWhenLogClosed(t *testing.T) {
	pl := newTestLog(t, 0)
	hub := notify.NewHub()
	ch, cancel := hub.Subscribe(2)
	defer cancel()

	o := NewOutbox(pl, hub)
	require.NoError(t, pl.Close())

	assert.ErrorIs(t, o.Save(context.Background(), like(1, 2, 3)), ErrLogClosed)
	assert.Len(t, ch, 0, "failed records are not fanned out")
}

var _ notify.Port = (*Outbox)(nil)

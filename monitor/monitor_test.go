package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/engage/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_CountsPerType(t *testing.T) {
	m := New()

	m.RecordPublished(event.Like)
	m.RecordPublished(event.Like)
	m.RecordProcessed(event.Like, 2*time.Millisecond)
	m.RecordProcessed(event.Like, 4*time.Millisecond)
	m.RecordFailed(event.Follow)
	m.RecordBackpressure(event.Like, time.Millisecond)

	like := m.For(event.Like)
	assert.Equal(t, int64(2), like.Published)
	assert.Equal(t, int64(2), like.Processed)
	assert.Equal(t, int64(0), like.Failed)
	assert.Equal(t, int64(1), like.Backpressure)
	assert.Equal(t, 3*time.Millisecond, like.AvgHandle)

	follow := m.For(event.Follow)
	assert.Equal(t, int64(1), follow.Failed)
	assert.Equal(t, int64(0), follow.Backpressure)

	assert.Equal(t, TypeSnapshot{Type: event.Favorite}, m.For(event.Favorite))
}

func TestMonitor_SnapshotSortedWithTotals(t *testing.T) {
	m := New()
	m.RecordProcessed(event.Unfollow, 0)
	m.RecordProcessed(event.CommentCreated, 0)
	m.RecordFailed(event.Like)

	snap := m.Snapshot()
	require.Len(t, snap.Types, 3)
	assert.Equal(t, event.CommentCreated, snap.Types[0].Type)
	assert.Equal(t, event.Like, snap.Types[1].Type)
	assert.Equal(t, event.Unfollow, snap.Types[2].Type)
	assert.Equal(t, int64(2), snap.Totals.Processed)
	assert.Equal(t, int64(1), snap.Totals.Failed)
}

func TestMonitor_Concurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m.RecordProcessed(event.Like, time.Microsecond)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(4000), m.For(event.Like).Processed)
}

package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/maxpert/engage/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(name string, calls *atomic.Int64, types ...event.Type) *HandlerFunc {
	return NewHandlerFunc(name, func(ctx context.Context, ev *event.Event) error {
		calls.Add(1)
		return nil
	}, types...)
}

func TestRouter_DispatchSelectivity(t *testing.T) {
	var commentCalls, likeCalls atomic.Int64

	r := NewRouter(
		Registration{Handler: countingHandler("comment", &commentCalls, event.CommentCreated)},
		Registration{Handler: countingHandler("like", &likeCalls, event.Like)},
	)

	require.NoError(t, r.Dispatch(context.Background(), &event.Event{Type: event.Like}))

	assert.Equal(t, int64(0), commentCalls.Load())
	assert.Equal(t, int64(1), likeCalls.Load())
}

func TestRouter_PriorityOrderStable(t *testing.T) {
	var order []string
	mk := func(name string) Handler {
		return NewHandlerFunc(name, func(ctx context.Context, ev *event.Event) error {
			order = append(order, name)
			return nil
		}, event.Follow)
	}

	r := NewRouter(
		Registration{Handler: mk("late"), Priority: 10},
		Registration{Handler: mk("first-a"), Priority: 0},
		Registration{Handler: mk("mid"), Priority: 5},
		Registration{Handler: mk("first-b"), Priority: 0},
	)

	require.NoError(t, r.Dispatch(context.Background(), &event.Event{Type: event.Follow}))
	assert.Equal(t, []string{"first-a", "first-b", "mid", "late"}, order)

	names := make([]string, 0)
	for _, h := range r.Handlers() {
		names = append(names, h.Name())
	}
	assert.Equal(t, order, names)
}

func TestRouter_FirstErrorStopsChain(t *testing.T) {
	boom := errors.New("boom")
	var after atomic.Int64

	r := NewRouter(
		Registration{Handler: NewHandlerFunc("fails", func(ctx context.Context, ev *event.Event) error {
			return boom
		}, event.Like), Priority: 1},
		Registration{Handler: countingHandler("after", &after, event.Like), Priority: 2},
	)

	err := r.Dispatch(context.Background(), &event.Event{Type: event.Like})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "fails", he.Handler)
	assert.Equal(t, event.Like, he.Type)
	assert.Equal(t, int64(0), after.Load())
}

func TestRouter_HandlersFor(t *testing.T) {
	var c atomic.Int64
	r := NewRouter(
		Registration{Handler: countingHandler("a", &c, event.Like, event.Unlike)},
		Registration{Handler: countingHandler("b", &c, event.Follow)},
	)

	assert.Len(t, r.HandlersFor(event.Unlike), 1)
	assert.Len(t, r.HandlersFor(event.Follow), 1)
	assert.Empty(t, r.HandlersFor(event.PostViewed))
	require.NoError(t, r.Dispatch(context.Background(), &event.Event{Type: event.PostViewed}))
	assert.Equal(t, int64(0), c.Load())
}

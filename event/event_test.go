package event

import (
	"testing"

	"github.com/maxpert/engage/hlc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadAs(t *testing.T) {
	ev := &Event{Type: Like, Payload: LikePayload{UserID: 1, TargetID: 42}}
	p, err := PayloadAs[LikePayload](ev)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.TargetID)

	ev.Payload = &LikePayload{UserID: 2}
	p, err = PayloadAs[LikePayload](ev)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.UserID)

	ev.Payload = FollowPayload{}
	_, err = PayloadAs[LikePayload](ev)
	var pe *PayloadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, Like, pe.Type)
	assert.Contains(t, err.Error(), "FollowPayload")

	ev.Payload = (*LikePayload)(nil)
	_, err = PayloadAs[LikePayload](ev)
	assert.Error(t, err)
}

func TestEvent_Reset(t *testing.T) {
	ev := Event{Type: Follow, Payload: FollowPayload{FollowerID: 1}, Timestamp: hlc.NewClock(1).Now()}
	ev.Reset()
	assert.Equal(t, Event{}, ev)
}

func TestTypes_Unique(t *testing.T) {
	seen := map[Type]bool{}
	for _, ty := range Types() {
		assert.False(t, seen[ty], "duplicate %s", ty)
		seen[ty] = true
	}
	assert.Len(t, seen, 12)
}

func TestCommentPayload_IsReply(t *testing.T) {
	assert.False(t, CommentPayload{}.IsReply())
	assert.True(t, CommentPayload{ParentID: 9}.IsReply())
}

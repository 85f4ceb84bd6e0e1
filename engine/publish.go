package engine

import (
	"context"
	"errors"
	"time"

	"github.com/maxpert/engage/event"
	"github.com/maxpert/engage/ring"
)

// Publish puts one event on the ring. When the ring is full the call waits
// for space (backpressure is recorded for the event type) until ctx ends.
// Once Publish returns nil the event will be processed.
func (e *Engine) Publish(ctx context.Context, t event.Type, payload any) error {
	seq, err := e.queue.TryClaim()
	if errors.Is(err, ring.ErrFull) {
		start := time.Now()
		seq, err = e.queue.ClaimContext(ctx)
		e.monitor.RecordBackpressure(t, time.Since(start))
	}
	if err != nil {
		return claimError(err)
	}
	e.fill(seq, t, payload)
	return nil
}

// TryPublish is Publish without waiting; a full ring returns ring.ErrFull
func (e *Engine) TryPublish(t event.Type, payload any) error {
	seq, err := e.queue.TryClaim()
	if err != nil {
		if errors.Is(err, ring.ErrFull) {
			e.monitor.RecordBackpressure(t, 0)
		}
		return claimError(err)
	}
	e.fill(seq, t, payload)
	return nil
}

func (e *Engine) fill(seq int64, t event.Type, payload any) {
	slot := e.queue.Get(seq)
	slot.Type = t
	slot.Payload = payload
	slot.Timestamp = e.clock.Now()
	// counted first so processed never runs ahead of published
	e.monitor.RecordPublished(t)
	e.queue.Publish(seq)
}

func claimError(err error) error {
	if errors.Is(err, ring.ErrClosed) {
		return ErrStopped
	}
	return err
}

func (e *Engine) PublishLike(ctx context.Context, p event.LikePayload) error {
	return e.Publish(ctx, event.Like, p)
}

func (e *Engine) PublishUnlike(ctx context.Context, p event.LikePayload) error {
	return e.Publish(ctx, event.Unlike, p)
}

func (e *Engine) PublishCommentCreated(ctx context.Context, p event.CommentPayload) error {
	return e.Publish(ctx, event.CommentCreated, p)
}

func (e *Engine) PublishCommentDeleted(ctx context.Context, p event.CommentPayload) error {
	return e.Publish(ctx, event.CommentDeleted, p)
}

func (e *Engine) PublishFollow(ctx context.Context, p event.FollowPayload) error {
	return e.Publish(ctx, event.Follow, p)
}

func (e *Engine) PublishUnfollow(ctx context.Context, p event.FollowPayload) error {
	return e.Publish(ctx, event.Unfollow, p)
}

func (e *Engine) PublishFavorite(ctx context.Context, p event.FavoritePayload) error {
	return e.Publish(ctx, event.Favorite, p)
}

func (e *Engine) PublishUnfavorite(ctx context.Context, p event.FavoritePayload) error {
	return e.Publish(ctx, event.Unfavorite, p)
}

func (e *Engine) PublishPostCreated(ctx context.Context, p event.PostPayload) error {
	return e.Publish(ctx, event.PostCreated, p)
}

func (e *Engine) PublishPostDeleted(ctx context.Context, p event.PostPayload) error {
	return e.Publish(ctx, event.PostDeleted, p)
}

func (e *Engine) PublishPostViewed(ctx context.Context, p event.PostPayload) error {
	return e.Publish(ctx, event.PostViewed, p)
}

func (e *Engine) PublishUserRegistered(ctx context.Context, p event.UserPayload) error {
	return e.Publish(ctx, event.UserRegistered, p)
}

// Package handlers holds the event handlers that keep engagement counters
// and notifications in step with user interactions.
package handlers

import (
	"context"
	"fmt"

	"github.com/maxpert/engage/counter"
	"github.com/maxpert/engage/event"
	"github.com/maxpert/engage/txn"
	"github.com/rs/zerolog/log"
)

// PointRules are the points a user earns per action. Zero disables a rule.
type PointRules struct {
	PostCreated    int64
	CommentCreated int64
	LikeReceived   int64
	Registered     int64
}

// DefaultPointRules is the stock incentive table
var DefaultPointRules = PointRules{
	PostCreated:    10,
	CommentCreated: 2,
	LikeReceived:   1,
	Registered:     100,
}

type delta struct {
	key counter.Key
	n   int64
}

// Statistics maintains the counters. Events that touch more than one
// counter are applied as a single coordinated transaction.
type Statistics struct {
	repo   *counter.Repository
	txc    *txn.Coordinator
	points PointRules
}

// NewStatistics builds the counter handler; txc may be nil, in which case
// multi-counter updates are applied one by one.
func NewStatistics(repo *counter.Repository, txc *txn.Coordinator, points PointRules) *Statistics {
	return &Statistics{repo: repo, txc: txc, points: points}
}

func (s *Statistics) Name() string { return "statistics" }

func (s *Statistics) Supports(t event.Type) bool {
	switch t {
	case event.Like, event.Unlike,
		event.CommentCreated, event.CommentDeleted,
		event.Follow, event.Unfollow,
		event.Favorite, event.Unfavorite,
		event.PostCreated, event.PostDeleted, event.PostViewed,
		event.UserRegistered:
		return true
	}
	return false
}

func (s *Statistics) Handle(ctx context.Context, ev *event.Event) error {
	switch ev.Type {
	case event.Like, event.Unlike:
		p, err := event.PayloadAs[event.LikePayload](ev)
		if err != nil {
			return err
		}
		return s.apply(ctx, s.likeDeltas(p, sign(ev.Type == event.Like))...)

	case event.CommentCreated, event.CommentDeleted:
		p, err := event.PayloadAs[event.CommentPayload](ev)
		if err != nil {
			return err
		}
		n := sign(ev.Type == event.CommentCreated)
		return s.apply(ctx,
			delta{counter.NewKey(counter.PostComments, p.PostID), n},
			delta{counter.NewKey(counter.UserComments, p.UserID), n},
			delta{counter.NewKey(counter.UserPoints, p.UserID), n * s.points.CommentCreated},
		)

	case event.Follow, event.Unfollow:
		p, err := event.PayloadAs[event.FollowPayload](ev)
		if err != nil {
			return err
		}
		if p.FollowerID == p.FolloweeID {
			return nil
		}
		n := sign(ev.Type == event.Follow)
		return s.apply(ctx,
			delta{counter.NewKey(counter.UserFollowing, p.FollowerID), n},
			delta{counter.NewKey(counter.UserFans, p.FolloweeID), n},
		)

	case event.Favorite, event.Unfavorite:
		p, err := event.PayloadAs[event.FavoritePayload](ev)
		if err != nil {
			return err
		}
		return s.apply(ctx, delta{counter.NewKey(counter.PostFavorites, p.PostID), sign(ev.Type == event.Favorite)})

	case event.PostCreated:
		p, err := event.PayloadAs[event.PostPayload](ev)
		if err != nil {
			return err
		}
		return s.apply(ctx,
			delta{counter.NewKey(counter.UserPosts, p.AuthorID), 1},
			delta{counter.NewKey(counter.UserPoints, p.AuthorID), s.points.PostCreated},
		)

	case event.PostDeleted:
		p, err := event.PayloadAs[event.PostPayload](ev)
		if err != nil {
			return err
		}
		return s.deletePost(ctx, p)

	case event.PostViewed:
		p, err := event.PayloadAs[event.PostPayload](ev)
		if err != nil {
			return err
		}
		return s.apply(ctx, delta{counter.NewKey(counter.PostViews, p.PostID), 1})

	case event.UserRegistered:
		p, err := event.PayloadAs[event.UserPayload](ev)
		if err != nil {
			return err
		}
		return s.apply(ctx, delta{counter.NewKey(counter.UserPoints, p.UserID), s.points.Registered})
	}
	return nil
}

func (s *Statistics) likeDeltas(p event.LikePayload, n int64) []delta {
	var ds []delta
	switch p.Target {
	case event.TargetComment:
		ds = append(ds, delta{counter.NewKey(counter.CommentLikes, p.TargetID), n})
	default:
		ds = append(ds, delta{counter.NewKey(counter.PostLikes, p.TargetID), n})
	}
	// Liking your own content earns nothing
	if p.OwnerID != 0 && p.OwnerID != p.UserID {
		ds = append(ds,
			delta{counter.NewKey(counter.UserLikesReceived, p.OwnerID), n},
			delta{counter.NewKey(counter.UserPoints, p.OwnerID), n * s.points.LikeReceived},
		)
	}
	return ds
}

// deletePost drops the post's own counters and the author's post count
func (s *Statistics) deletePost(ctx context.Context, p event.PostPayload) error {
	if err := s.apply(ctx,
		delta{counter.NewKey(counter.UserPosts, p.AuthorID), -1},
		delta{counter.NewKey(counter.UserPoints, p.AuthorID), -s.points.PostCreated},
	); err != nil {
		return err
	}

	var firstErr error
	for _, e := range []counter.EntityType{counter.PostLikes, counter.PostComments, counter.PostFavorites, counter.PostViews} {
		if err := s.repo.Delete(ctx, counter.NewKey(e, p.PostID)); err != nil {
			log.Warn().Err(err).Int64("post_id", p.PostID).Str("entity", e.String()).Msg("Failed to delete post counter")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// apply adds every non-zero delta, atomically when there is more than one
func (s *Statistics) apply(ctx context.Context, ds ...delta) error {
	live := ds[:0:0]
	for _, d := range ds {
		if d.n != 0 && d.key.ID != 0 {
			live = append(live, d)
		}
	}

	switch {
	case len(live) == 0:
		return nil
	case len(live) == 1 || s.txc == nil:
		for _, d := range live {
			if _, err := s.repo.Add(ctx, d.key, d.n); err != nil {
				return fmt.Errorf("add %s: %w", d.key, err)
			}
		}
		return nil
	}

	return s.txc.Execute(ctx, func(ctx context.Context) error {
		for _, d := range live {
			if err := s.txc.Register(ctx, counter.NewParticipant(s.repo, d.key, d.n)); err != nil {
				return err
			}
		}
		return nil
	})
}

func sign(positive bool) int64 {
	if positive {
		return 1
	}
	return -1
}

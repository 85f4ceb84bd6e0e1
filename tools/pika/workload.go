package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/maxpert/engage/event"
)

type OpType int

const (
	OpLike OpType = iota
	OpUnlike
	OpComment
	OpFollow
	OpFavorite
	OpView
	numOps
)

func (o OpType) String() string {
	switch o {
	case OpLike:
		return "LIKE"
	case OpUnlike:
		return "UNLIKE"
	case OpComment:
		return "COMMENT"
	case OpFollow:
		return "FOLLOW"
	case OpFavorite:
		return "FAVORITE"
	case OpView:
		return "VIEW"
	default:
		return "UNKNOWN"
	}
}

// OpSelector selects operations based on workload distribution.
type OpSelector struct {
	thresholds [numOps]int // Cumulative thresholds for each op type
	rng        *rand.Rand
}

// NewOpSelector creates an operation selector.
func NewOpSelector(dist WorkloadDistribution, seed int64) *OpSelector {
	s := &OpSelector{rng: rand.New(rand.NewSource(seed))}

	s.thresholds[OpLike] = dist.Like
	s.thresholds[OpUnlike] = s.thresholds[OpLike] + dist.Unlike
	s.thresholds[OpComment] = s.thresholds[OpUnlike] + dist.Comment
	s.thresholds[OpFollow] = s.thresholds[OpComment] + dist.Follow
	s.thresholds[OpFavorite] = s.thresholds[OpFollow] + dist.Favorite
	s.thresholds[OpView] = s.thresholds[OpFavorite] + dist.View

	return s
}

// Select returns a random operation type based on distribution.
func (s *OpSelector) Select() OpType {
	r := s.rng.Intn(100)
	for op := OpLike; op < OpView; op++ {
		if r < s.thresholds[op] {
			return op
		}
	}
	return OpView
}

// Population maps ids to owners so payloads stay consistent across producers.
// Post p is owned by user (p % users) + 1.
type Population struct {
	Users int
	Posts int
}

func (p Population) PostOwner(post int64) int64 {
	return post%int64(p.Users) + 1
}

func (p Population) RandomUser(rng *rand.Rand) int64 {
	return rng.Int63n(int64(p.Users)) + 1
}

func (p Population) RandomPost(rng *rand.Rand) int64 {
	return rng.Int63n(int64(p.Posts)) + 1
}

// Publisher is the engine surface a producer drives
type Publisher interface {
	Publish(ctx context.Context, t event.Type, payload any) error
}

// Operation is one generated event
type Operation struct {
	Type    OpType
	Event   event.Type
	PostID  int64
	Payload any
}

// NextOperation builds a payload for op against the population
func NextOperation(op OpType, pop Population, rng *rand.Rand, commentSeq func() int64) Operation {
	user := pop.RandomUser(rng)
	post := pop.RandomPost(rng)
	owner := pop.PostOwner(post)

	switch op {
	case OpLike, OpUnlike:
		t := event.Like
		if op == OpUnlike {
			t = event.Unlike
		}
		return Operation{Type: op, Event: t, PostID: post, Payload: event.LikePayload{
			UserID: user, Target: event.TargetPost, TargetID: post, OwnerID: owner,
		}}
	case OpComment:
		return Operation{Type: op, Event: event.CommentCreated, PostID: post, Payload: event.CommentPayload{
			CommentID: commentSeq(), PostID: post, UserID: user, PostOwnerID: owner,
			Content: generateContent(rng),
		}}
	case OpFollow:
		followee := pop.RandomUser(rng)
		if followee == user {
			followee = user%int64(pop.Users) + 1
		}
		return Operation{Type: op, Event: event.Follow, Payload: event.FollowPayload{
			FollowerID: user, FolloweeID: followee,
		}}
	case OpFavorite:
		return Operation{Type: op, Event: event.Favorite, PostID: post, Payload: event.FavoritePayload{
			UserID: user, PostID: post, OwnerID: owner,
		}}
	default:
		return Operation{Type: OpView, Event: event.PostViewed, PostID: post, Payload: event.PostPayload{
			PostID: post, AuthorID: owner, ViewerID: user,
		}}
	}
}

// generateContent generates comment text, sometimes longer than a notification preview
func generateContent(rng *rand.Rand) string {
	const chars = "abcdefghijklmnopqrstuvwxyz "
	b := make([]byte, 20+rng.Intn(60))
	for i := range b {
		b[i] = chars[rng.Intn(len(chars))]
	}
	return string(b)
}

// ExecuteOp publishes a single operation.
func ExecuteOp(ctx context.Context, pub Publisher, op Operation) error {
	if op.Event == "" {
		return fmt.Errorf("unknown operation type: %v", op.Type)
	}
	return pub.Publish(ctx, op.Event, op.Payload)
}

package counter

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityType enumerates the countable resources
type EntityType uint8

const (
	PostLikes EntityType = iota + 1
	PostComments
	PostFavorites
	PostViews
	CommentLikes
	UserFollowing
	UserFans
	UserPosts
	UserComments
	UserLikesReceived
	UserPoints
)

var entityNames = map[EntityType]string{
	PostLikes:         "post_likes",
	PostComments:      "post_comments",
	PostFavorites:     "post_favorites",
	PostViews:         "post_views",
	CommentLikes:      "comment_likes",
	UserFollowing:     "user_following",
	UserFans:          "user_fans",
	UserPosts:         "user_posts",
	UserComments:      "user_comments",
	UserLikesReceived: "user_likes_received",
	UserPoints:        "user_points",
}

func (e EntityType) String() string {
	if n, ok := entityNames[e]; ok {
		return n
	}
	return "entity_" + strconv.Itoa(int(e))
}

// Valid reports whether e is a known entity type
func (e EntityType) Valid() bool {
	_, ok := entityNames[e]
	return ok
}

// ParseEntityType accepts the names produced by String
func ParseEntityType(s string) (EntityType, error) {
	for e, n := range entityNames {
		if n == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown entity type %q", s)
}

// EntityTypes lists every known entity type in declaration order
func EntityTypes() []EntityType {
	out := make([]EntityType, 0, len(entityNames))
	for e := PostLikes; e <= UserPoints; e++ {
		out = append(out, e)
	}
	return out
}

// Key identifies one counter, e.g. the like count of post 42
type Key struct {
	Entity EntityType
	ID     int64
}

func NewKey(e EntityType, id int64) Key {
	return Key{Entity: e, ID: id}
}

func (k Key) String() string {
	return k.Entity.String() + ":" + strconv.FormatInt(k.ID, 10)
}

// ParseKey reverses Key.String
func ParseKey(s string) (Key, error) {
	name, id, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("malformed counter key %q", s)
	}
	e, err := ParseEntityType(name)
	if err != nil {
		return Key{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("malformed counter id in %q: %w", s, err)
	}
	return Key{Entity: e, ID: n}, nil
}

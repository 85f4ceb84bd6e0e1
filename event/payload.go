package event

// TargetKind says what a like or favorite points at
type TargetKind string

const (
	TargetPost    TargetKind = "post"
	TargetComment TargetKind = "comment"
)

// LikePayload accompanies Like and Unlike
type LikePayload struct {
	UserID   int64      `json:"user_id"`
	Target   TargetKind `json:"target"`
	TargetID int64      `json:"target_id"`
	OwnerID  int64      `json:"owner_id"` // author of the liked post or comment
	PostID   int64      `json:"post_id"`  // owning post when Target is a comment
}

// CommentPayload accompanies CommentCreated and CommentDeleted.
// ParentID is zero for a root comment.
type CommentPayload struct {
	CommentID     int64  `json:"comment_id"`
	PostID        int64  `json:"post_id"`
	UserID        int64  `json:"user_id"`
	PostOwnerID   int64  `json:"post_owner_id"`
	ParentID      int64  `json:"parent_id"`
	ReplyToUserID int64  `json:"reply_to_user_id"`
	Content       string `json:"content"`
}

// IsReply reports whether the comment answers another comment
func (c CommentPayload) IsReply() bool {
	return c.ParentID != 0
}

// FollowPayload accompanies Follow and Unfollow
type FollowPayload struct {
	FollowerID int64 `json:"follower_id"`
	FolloweeID int64 `json:"followee_id"`
}

// FavoritePayload accompanies Favorite and Unfavorite
type FavoritePayload struct {
	UserID  int64 `json:"user_id"`
	PostID  int64 `json:"post_id"`
	OwnerID int64 `json:"owner_id"`
}

// PostPayload accompanies PostCreated, PostDeleted and PostViewed
type PostPayload struct {
	PostID   int64 `json:"post_id"`
	AuthorID int64 `json:"author_id"`
	ViewerID int64 `json:"viewer_id,omitempty"`
}

// UserPayload accompanies UserRegistered
type UserPayload struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

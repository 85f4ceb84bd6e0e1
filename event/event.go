// Package event defines the unit of work carried through the ring and the
// payloads producers attach to it.
package event

import (
	"fmt"

	"github.com/maxpert/engage/hlc"
)

// Type names a kind of user interaction
type Type string

const (
	Like           Type = "LIKE"
	Unlike         Type = "UNLIKE"
	CommentCreated Type = "COMMENT_CREATED"
	CommentDeleted Type = "COMMENT_DELETED"
	Follow         Type = "FOLLOW"
	Unfollow       Type = "UNFOLLOW"
	Favorite       Type = "FAVORITE"
	Unfavorite     Type = "UNFAVORITE"
	PostCreated    Type = "POST_CREATED"
	PostDeleted    Type = "POST_DELETED"
	PostViewed     Type = "POST_VIEWED"
	UserRegistered Type = "USER_REGISTERED"
)

// Types lists every known event type in a stable order
func Types() []Type {
	return []Type{
		Like, Unlike,
		CommentCreated, CommentDeleted,
		Follow, Unfollow,
		Favorite, Unfavorite,
		PostCreated, PostDeleted, PostViewed,
		UserRegistered,
	}
}

// Event is one slot of the ring. Workers hand a pointer to the slot itself
// to handlers, so handlers must not keep it after Handle returns.
type Event struct {
	Type      Type
	Payload   any
	Timestamp hlc.Timestamp
}

// Reset clears the slot so a stale payload is not kept alive until the next lap
func (e *Event) Reset() {
	e.Type = ""
	e.Payload = nil
	e.Timestamp = hlc.Timestamp{}
}

// PayloadError is returned when an event carries an unexpected payload
type PayloadError struct {
	Type Type
	Got  any
	Want string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("event %s: payload is %T, want %s", e.Type, e.Got, e.Want)
}

// PayloadAs extracts a typed payload, accepting either a value or a pointer
func PayloadAs[T any](e *Event) (T, error) {
	switch p := e.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var zero T
	return zero, &PayloadError{Type: e.Type, Got: e.Payload, Want: fmt.Sprintf("%T", zero)}
}

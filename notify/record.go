package notify

import (
	"context"
	"unicode/utf8"
)

// Type is the kind of notification delivered to a user
type Type string

const (
	TypeLike    Type = "LIKE"
	TypeComment Type = "COMMENT"
	TypeReply   Type = "REPLY"
	TypeFollow  Type = "FOLLOW"
)

// BusinessType names the entity a notification points at
type BusinessType string

const (
	BusinessPost    BusinessType = "POST"
	BusinessComment BusinessType = "COMMENT"
	BusinessUser    BusinessType = "USER"
)

// DefaultContentMaxRunes bounds Record.Content when no limit is configured
const DefaultContentMaxRunes = 50

// Record is a single notification addressed to ReceiverID.
// ID is assigned by the store that persists it; zero means not yet persisted.
type Record struct {
	ID           uint64       `json:"id" msgpack:"id"`
	Type         Type         `json:"type" msgpack:"type"`
	SenderID     int64        `json:"sender_id" msgpack:"sender_id"`
	ReceiverID   int64        `json:"receiver_id" msgpack:"receiver_id"`
	BusinessType BusinessType `json:"business_type" msgpack:"business_type"`
	BusinessID   int64        `json:"business_id" msgpack:"business_id"`
	Content      string       `json:"content,omitempty" msgpack:"content,omitempty"`
	CreatedAt    int64        `json:"created_at" msgpack:"created_at"` // unix ms
}

// SelfAddressed reports whether the sender would be notifying themself
func (r Record) SelfAddressed() bool {
	return r.SenderID == r.ReceiverID
}

// Port persists and fans out notification records
type Port interface {
	Save(ctx context.Context, rec Record) error
}

// PortFunc adapts a function to Port
type PortFunc func(ctx context.Context, rec Record) error

func (f PortFunc) Save(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Truncate cuts s to at most max runes. max <= 0 leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

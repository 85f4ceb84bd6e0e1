package handlers

import (
	"context"
	"time"

	"github.com/maxpert/engage/event"
	"github.com/maxpert/engage/notify"
	"github.com/maxpert/engage/telemetry"
	"github.com/rs/zerolog/log"
)

// Notifications turns likes, comments and follows into notification records.
// Nobody is notified about their own actions.
type Notifications struct {
	port     notify.Port
	maxRunes int
	now      func() time.Time
}

// NewNotifications builds the notification handler. maxRunes <= 0 uses
// notify.DefaultContentMaxRunes.
func NewNotifications(port notify.Port, maxRunes int) *Notifications {
	if maxRunes <= 0 {
		maxRunes = notify.DefaultContentMaxRunes
	}
	return &Notifications{port: port, maxRunes: maxRunes, now: time.Now}
}

func (n *Notifications) Name() string { return "notifications" }

func (n *Notifications) Supports(t event.Type) bool {
	return t == event.Like || t == event.CommentCreated || t == event.Follow
}

func (n *Notifications) Handle(ctx context.Context, ev *event.Event) error {
	rec, ok, err := n.build(ev)
	if err != nil || !ok {
		return err
	}
	if rec.ReceiverID == 0 || rec.SelfAddressed() {
		telemetry.NotificationsTotal.With(string(rec.Type), "skipped").Inc()
		return nil
	}

	rec.CreatedAt = n.now().UnixMilli()
	if err := n.port.Save(ctx, rec); err != nil {
		return err
	}

	log.Debug().
		Str("type", string(rec.Type)).
		Int64("sender", rec.SenderID).
		Int64("receiver", rec.ReceiverID).
		Msg("Notification saved")
	return nil
}

func (n *Notifications) build(ev *event.Event) (notify.Record, bool, error) {
	switch ev.Type {
	case event.Like:
		p, err := event.PayloadAs[event.LikePayload](ev)
		if err != nil {
			return notify.Record{}, false, err
		}
		bt := notify.BusinessPost
		if p.Target == event.TargetComment {
			bt = notify.BusinessComment
		}
		return notify.Record{
			Type:         notify.TypeLike,
			SenderID:     p.UserID,
			ReceiverID:   p.OwnerID,
			BusinessType: bt,
			BusinessID:   p.TargetID,
		}, true, nil

	case event.CommentCreated:
		p, err := event.PayloadAs[event.CommentPayload](ev)
		if err != nil {
			return notify.Record{}, false, err
		}
		rec := notify.Record{
			Type:         notify.TypeComment,
			SenderID:     p.UserID,
			ReceiverID:   p.PostOwnerID,
			BusinessType: notify.BusinessPost,
			BusinessID:   p.PostID,
			Content:      notify.Truncate(p.Content, n.maxRunes),
		}
		if p.IsReply() {
			rec.Type = notify.TypeReply
			rec.ReceiverID = p.ReplyToUserID
			rec.BusinessType = notify.BusinessComment
			rec.BusinessID = p.ParentID
		}
		return rec, true, nil

	case event.Follow:
		p, err := event.PayloadAs[event.FollowPayload](ev)
		if err != nil {
			return notify.Record{}, false, err
		}
		return notify.Record{
			Type:         notify.TypeFollow,
			SenderID:     p.FollowerID,
			ReceiverID:   p.FolloweeID,
			BusinessType: notify.BusinessUser,
			BusinessID:   p.FollowerID,
		}, true, nil
	}
	return notify.Record{}, false, nil
}

package publisher

import (
	"context"
	"time"

	"github.com/maxpert/engage/notify"
	"github.com/maxpert/engage/telemetry"
)

// Outbox is the durable notification Port: records are appended to the
// outbox log and then pushed to hub subscribers.
type Outbox struct {
	log *PublishLog
	hub *notify.Hub
	now func() time.Time
}

// NewOutbox builds an Outbox; hub may be nil
func NewOutbox(pubLog *PublishLog, hub *notify.Hub) *Outbox {
	return &Outbox{log: pubLog, hub: hub, now: time.Now}
}

// Save persists rec and fans it out. rec.ID is assigned from the log.
func (o *Outbox) Save(ctx context.Context, rec notify.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = o.now().UnixMilli()
	}

	recs := []notify.Record{rec}
	if err := o.log.Append(recs); err != nil {
		telemetry.NotificationsTotal.With(string(rec.Type), "failed").Inc()
		return err
	}
	telemetry.NotificationsTotal.With(string(rec.Type), "saved").Inc()

	if o.hub != nil {
		o.hub.Publish(recs[0])
	}
	return nil
}

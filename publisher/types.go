package publisher

import (
	"context"

	"github.com/maxpert/engage/notify"
)

// Sink is a destination for notification records (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends a message to the sink
	Publish(ctx context.Context, topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts records to a sink wire format
type Transformer interface {
	Transform(rec notify.Record) ([]byte, error)
}

// Filter determines whether a record should be published to a sink
type Filter interface {
	Match(recordType string) bool
}

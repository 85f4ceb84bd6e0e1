// Package transformer provides the publisher.Transformer wire formats
// for notification records.
package transformer

import (
	"encoding/json"

	"github.com/maxpert/engage/encoding"
	"github.com/maxpert/engage/notify"
	"github.com/maxpert/engage/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer { return JSON{} })
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer { return Msgpack{} })
}

// JSON encodes records as a single JSON object
type JSON struct{}

func (JSON) Transform(rec notify.Record) ([]byte, error) {
	return json.Marshal(rec)
}

// Msgpack encodes records with the shared msgpack settings
type Msgpack struct{}

func (Msgpack) Transform(rec notify.Record) ([]byte, error) {
	return encoding.Marshal(&rec)
}

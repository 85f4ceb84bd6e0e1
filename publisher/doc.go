// Package publisher is the durable notification outbox.
//
// Records saved through Outbox are appended to a Pebble-backed log with
// monotonically increasing sequence numbers, pushed to in-process hub
// subscribers, and delivered to every configured sink (Kafka, NATS) by a
// per-sink Worker that tracks its own persisted cursor.
//
// Key prefixes:
//
//	/outbox/{seq:016x}       -> frame(msgpack(notify.Record))
//	/outcursor/{sinkName}    -> uint64 (cursor)
//	/outseq                  -> uint64 (last assigned sequence)
//
// Delivery is at-least-once: a record is published first and the cursor is
// advanced afterwards. Entries below the slowest cursor are removed
// periodically, and entries older than the retention window are trimmed
// regardless of cursors.
package publisher

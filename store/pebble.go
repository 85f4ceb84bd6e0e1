package store

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/maxpert/engage/counter"
)

const pebbleCounterPrefix = "/counter/"

// PebbleStore keeps counters as 8 byte big endian values in Pebble
type PebbleStore struct {
	db   *pebble.DB
	sync bool
}

// PebbleOptions controls OpenPebble
type PebbleOptions struct {
	// FS overrides the filesystem, vfs.NewMem() in tests
	FS vfs.FS
	// Sync fsyncs every write; off by default since reconcile retries failed keys
	Sync bool
}

// OpenPebble opens (or creates) a Pebble database at dir
func OpenPebble(dir string, o PebbleOptions) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if o.FS != nil {
		opts.FS = o.FS
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, sync: o.Sync}, nil
}

func pebbleKey(key counter.Key) []byte {
	buf := make([]byte, len(pebbleCounterPrefix)+9)
	n := copy(buf, pebbleCounterPrefix)
	buf[n] = byte(key.Entity)
	binary.BigEndian.PutUint64(buf[n+1:], uint64(key.ID))
	return buf
}

func (p *PebbleStore) writeOpts() *pebble.WriteOptions {
	if p.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (p *PebbleStore) ReadCounter(ctx context.Context, key counter.Key) (int64, bool, error) {
	val, closer, err := p.db.Get(pebbleKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()

	if len(val) < 8 {
		return 0, false, errors.New("store: corrupt counter value")
	}
	return int64(binary.BigEndian.Uint64(val)), true, nil
}

func (p *PebbleStore) WriteCounter(ctx context.Context, key counter.Key, value int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(value))
	return p.db.Set(pebbleKey(key), buf, p.writeOpts())
}

// WriteCounters commits every value in one Pebble batch
func (p *PebbleStore) WriteCounters(ctx context.Context, values map[counter.Key]int64) error {
	batch := p.db.NewBatch()
	defer batch.Close()

	buf := make([]byte, 8)
	for k, v := range values {
		binary.BigEndian.PutUint64(buf, uint64(v))
		if err := batch.Set(pebbleKey(k), buf, nil); err != nil {
			return err
		}
	}
	return batch.Commit(p.writeOpts())
}

func (p *PebbleStore) DeleteCounter(ctx context.Context, key counter.Key) error {
	return p.db.Delete(pebbleKey(key), p.writeOpts())
}

// Keys lists up to limit stored keys of one entity type in id order
func (p *PebbleStore) Keys(ctx context.Context, entity counter.EntityType, limit uint) ([]counter.Key, error) {
	prefix := make([]byte, len(pebbleCounterPrefix)+1)
	n := copy(prefix, pebbleCounterPrefix)
	prefix[n] = byte(entity)

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []counter.Key
	for iter.First(); iter.Valid() && uint(len(keys)) < limit; iter.Next() {
		k := iter.Key()
		if len(k) != len(prefix)+8 {
			continue
		}
		id := int64(binary.BigEndian.Uint64(k[len(prefix):]))
		keys = append(keys, counter.NewKey(entity, id))
	}
	return keys, iter.Error()
}

// Count returns the number of stored counters
func (p *PebbleStore) Count() (int, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleCounterPrefix),
		UpperBound: prefixUpperBound([]byte(pebbleCounterPrefix)),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// prefixUpperBound returns the smallest key greater than every key with prefix
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

package counter

import "context"

// Store is the durable side of the repository. Values are absolute.
type Store interface {
	// ReadCounter returns found=false when the key has no row
	ReadCounter(ctx context.Context, key Key) (value int64, found bool, err error)
	WriteCounter(ctx context.Context, key Key, value int64) error
	DeleteCounter(ctx context.Context, key Key) error
}

// BatchStore writes many counters in one round trip. The write is all or nothing.
type BatchStore interface {
	Store
	WriteCounters(ctx context.Context, values map[Key]int64) error
}

// KeyLister is implemented by stores that can enumerate their rows. The
// repository uses it to warm the cache at startup.
type KeyLister interface {
	// Keys returns up to limit keys of one entity type
	Keys(ctx context.Context, entity EntityType, limit uint) ([]Key, error)
}

// writeAll pushes values through the batch path when the store has one
func writeAll(ctx context.Context, s Store, values map[Key]int64) map[Key]error {
	if bs, ok := s.(BatchStore); ok {
		if err := bs.WriteCounters(ctx, values); err != nil {
			failed := make(map[Key]error, len(values))
			for k := range values {
				failed[k] = err
			}
			return failed
		}
		return nil
	}

	var failed map[Key]error
	for k, v := range values {
		if err := s.WriteCounter(ctx, k, v); err != nil {
			if failed == nil {
				failed = make(map[Key]error)
			}
			failed[k] = err
		}
	}
	return failed
}

package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/maxpert/engage/encoding"
	"github.com/maxpert/engage/notify"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixOutbox    = "/outbox/"    // /outbox/{16-digit-zero-padded-seq}
	prefixOutCursor = "/outcursor/" // /outcursor/{sinkName}
	prefixOutSeq    = "/outseq"     // /outseq -> uint64 (last sequence)
)

// Pebble configuration constants
const (
	memTableSize                = 16 << 20 // 16MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
)

// Read and cleanup constants
const (
	defaultReadLimit    = 100  // Default limit for ReadFrom
	cleanupIntervalMask = 0x7F // Cleanup every 128 sequences
)

var ErrLogClosed = errors.New("outbox log is closed")

// LogOptions controls NewPublishLog
type LogOptions struct {
	// FS overrides the filesystem, vfs.NewMem() in tests
	FS vfs.FS
	// CompressThreshold is the encoded size at which records get zstd compressed
	CompressThreshold int
}

// PublishLog provides a Pebble-backed append-only log of notification records
type PublishLog struct {
	db        *pebble.DB
	path      string
	threshold int

	// In-memory cursor map for fast lookups
	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	// Last assigned sequence; appendMu serialises reservation and commit
	lastSeq  atomic.Uint64
	appendMu sync.Mutex

	// Cleanup tracking
	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// NewPublishLog creates or opens the outbox log under dataDir
func NewPublishLog(dataDir string, o LogOptions) (*PublishLog, error) {
	logPath := filepath.Join(dataDir, "outbox")

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
	}
	if o.FS != nil {
		opts.FS = o.FS
	}

	db, err := pebble.Open(logPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox log at %s: %w", logPath, err)
	}

	pl := &PublishLog{
		db:        db,
		path:      logPath,
		threshold: o.CompressThreshold,
		cursors:   make(map[string]uint64),
	}

	if err := pl.loadLastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}

	if err := pl.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return pl, nil
}

func (pl *PublishLog) loadLastSeq() error {
	val, closer, err := pl.db.Get([]byte(prefixOutSeq))
	if errors.Is(err, pebble.ErrNotFound) {
		pl.lastSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	pl.lastSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

func (pl *PublishLog) loadCursors() error {
	prefix := []byte(prefixOutCursor)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefixOutCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor data for sink %s: invalid length %d", name, len(val))
		}
		pl.cursors[name] = binary.LittleEndian.Uint64(val)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if len(pl.cursors) > 0 {
		log.Info().Int("cursors", len(pl.cursors)).Msg("Loaded outbox cursors")
	}
	return nil
}

// Append adds records to the log and assigns their IDs from the log sequence.
// The input slice is modified in place.
func (pl *PublishLog) Append(recs []notify.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.appendMu.Lock()
	defer pl.appendMu.Unlock()

	seq := pl.lastSeq.Load()

	batch := pl.db.NewBatch()
	defer batch.Close()

	for i := range recs {
		seq++
		recs[i].ID = seq

		raw, err := encoding.Marshal(&recs[i])
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := batch.Set(outboxKey(seq), encoding.Compress(raw, pl.threshold), nil); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(prefixOutSeq), seqBuf, nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		for i := range recs {
			recs[i].ID = 0
		}
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	// Only publish the new sequence after a successful commit
	pl.lastSeq.Store(seq)
	return nil
}

// ReadFrom reads records after cursor, up to limit records
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]notify.Record, error) {
	if pl.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := outboxKey(cursor + 1)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixOutbox)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	recs := make([]notify.Record, 0, limit)
	for iter.First(); iter.Valid() && len(recs) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		rec, err := decodeRecord(val)
		if err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to decode outbox record")
			continue
		}
		recs = append(recs, rec)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return recs, nil
}

func decodeRecord(val []byte) (notify.Record, error) {
	var rec notify.Record
	raw, err := encoding.Decompress(val)
	if err != nil {
		return rec, err
	}
	err = encoding.Unmarshal(raw, &rec)
	return rec, err
}

// GetCursor returns the current cursor for a sink, 0 for a new sink
func (pl *PublishLog) GetCursor(sinkName string) (uint64, error) {
	if pl.closed.Load() {
		return 0, ErrLogClosed
	}

	pl.cursorsMu.RLock()
	cursor, exists := pl.cursors[sinkName]
	pl.cursorsMu.RUnlock()
	if exists {
		return cursor, nil
	}

	val, closer, err := pl.db.Get([]byte(prefixOutCursor + sinkName))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid cursor value length: %d", len(val))
	}
	cursor = binary.LittleEndian.Uint64(val)

	pl.cursorsMu.Lock()
	if existing, ok := pl.cursors[sinkName]; ok {
		pl.cursorsMu.Unlock()
		return existing, nil
	}
	pl.cursors[sinkName] = cursor
	pl.cursorsMu.Unlock()

	return cursor, nil
}

// AdvanceCursor updates the cursor for a sink and triggers cleanup periodically
func (pl *PublishLog) AdvanceCursor(sinkName string, newSeq uint64) error {
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.cursorsMu.Lock()
	pl.cursors[sinkName] = newSeq
	pl.cursorsMu.Unlock()

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, newSeq)
	if err := pl.db.Set([]byte(prefixOutCursor+sinkName), val, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	if newSeq&cleanupIntervalMask == 0 && pl.cleanupRunning.CompareAndSwap(false, true) {
		pl.cleanupWg.Add(1)
		go pl.cleanupAsync()
	}
	return nil
}

// LastSeq returns the last assigned sequence
func (pl *PublishLog) LastSeq() uint64 {
	return pl.lastSeq.Load()
}

// MaxPending returns how many records the slowest sink has yet to deliver
func (pl *PublishLog) MaxPending() uint64 {
	last := pl.lastSeq.Load()
	low, ok := pl.minCursor()
	if !ok || low >= last {
		return 0
	}
	return last - low
}

func (pl *PublishLog) minCursor() (uint64, bool) {
	pl.cursorsMu.RLock()
	defer pl.cursorsMu.RUnlock()

	if len(pl.cursors) == 0 {
		return 0, false
	}
	low := ^uint64(0)
	for _, c := range pl.cursors {
		if c < low {
			low = c
		}
	}
	return low, true
}

// cleanup deletes entries at or below the minimum cursor.
func (pl *PublishLog) cleanup() {
	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()

	if pl.closed.Load() {
		return
	}

	low, ok := pl.minCursor()
	if !ok || low == 0 {
		return
	}

	if err := pl.db.DeleteRange([]byte(prefixOutbox), outboxKey(low+1), pebble.NoSync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", low).Msg("Failed to cleanup outbox log")
		return
	}
	log.Debug().Uint64("min_cursor", low).Msg("Cleaned up outbox log entries")
}

func (pl *PublishLog) cleanupAsync() {
	defer pl.cleanupWg.Done()
	defer pl.cleanupRunning.Store(false)
	pl.cleanup()
}

// Trim deletes the leading entries created before cutoff, whether or not
// every sink has delivered them, and returns how many were removed.
func (pl *PublishLog) Trim(cutoff time.Time) (int, error) {
	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()

	if pl.closed.Load() {
		return 0, ErrLogClosed
	}

	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixOutbox),
		UpperBound: prefixUpperBound([]byte(prefixOutbox)),
	})
	if err != nil {
		return 0, err
	}

	limit := cutoff.UnixMilli()
	removed := 0
	var end []byte
	for iter.First(); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			iter.Close()
			return 0, err
		}
		rec, err := decodeRecord(val)
		if err == nil && rec.CreatedAt >= limit {
			break
		}
		removed++
		end = append(end[:0], iter.Key()...)
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	end = append(end, 0)
	if err := pl.db.DeleteRange([]byte(prefixOutbox), end, pebble.NoSync); err != nil {
		return 0, err
	}
	return removed, nil
}

// Close closes the Pebble database and waits for in-flight cleanup
func (pl *PublishLog) Close() error {
	if !pl.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}
	pl.cleanupWg.Wait()

	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()
	return pl.db.Close()
}

func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixOutbox, seq))
}

// prefixUpperBound returns the upper bound for a prefix scan
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

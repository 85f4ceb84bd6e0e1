package ring

import "sync/atomic"

// InitialSequence is the value of a sequence before anything was claimed or consumed.
const InitialSequence int64 = -1

// Sequence is a padded atomic counter. Producers and consumers each own one
// so their hot fields never share a cache line.
type Sequence struct {
	_     [56]byte
	value atomic.Int64
	_     [56]byte
}

// NewSequence returns a sequence holding initial.
func NewSequence(initial int64) *Sequence {
	s := &Sequence{}
	s.value.Store(initial)
	return s
}

func (s *Sequence) Get() int64 {
	return s.value.Load()
}

func (s *Sequence) Set(v int64) {
	s.value.Store(v)
}

func (s *Sequence) CompareAndSet(old, new int64) bool {
	return s.value.CompareAndSwap(old, new)
}

// minimumSequence returns the smallest value among seqs, or fallback when empty.
func minimumSequence(seqs []*Sequence, fallback int64) int64 {
	m := fallback
	for _, s := range seqs {
		if v := s.Get(); v < m {
			m = v
		}
	}
	return m
}

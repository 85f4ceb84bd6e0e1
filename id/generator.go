// Package id hands out the identifiers used for transactions.
package id

import (
	"sync/atomic"

	"github.com/maxpert/engage/hlc"
)

// Generator provides unique, roughly time-ordered IDs.
type Generator interface {
	NextID() uint64
}

// HLCGenerator derives IDs from the hybrid logical clock, so IDs from
// different nodes never collide.
type HLCGenerator struct {
	clock *hlc.Clock
}

func NewHLCGenerator(clock *hlc.Clock) *HLCGenerator {
	return &HLCGenerator{clock: clock}
}

// NextID generates a unique 64-bit ID. See hlc.Timestamp.ToID for the layout.
func (g *HLCGenerator) NextID() uint64 {
	return g.clock.Now().ToID()
}

// Sequence hands out consecutive IDs after start. It is only unique
// within one process.
type Sequence struct {
	n atomic.Uint64
}

func NewSequence(start uint64) *Sequence {
	s := &Sequence{}
	s.n.Store(start)
	return s
}

func (s *Sequence) NextID() uint64 {
	return s.n.Add(1)
}

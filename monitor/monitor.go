// Package monitor keeps per event type counters for the admin surface and
// mirrors them to Prometheus.
package monitor

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/maxpert/engage/event"
	"github.com/maxpert/engage/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
)

type typeStats struct {
	published    atomic.Int64
	processed    atomic.Int64
	failed       atomic.Int64
	backpressure atomic.Int64
	handleNanos  atomic.Int64
}

// TypeSnapshot is a point-in-time copy of one event type's counters.
// Backpressure is not a failure and is never folded into Failed.
type TypeSnapshot struct {
	Type         event.Type    `json:"type"`
	Published    int64         `json:"published"`
	Processed    int64         `json:"processed"`
	Failed       int64         `json:"failed"`
	Backpressure int64         `json:"backpressure"`
	AvgHandle    time.Duration `json:"avg_handle_ns"`
}

// Snapshot is the whole engine view
type Snapshot struct {
	Types   []TypeSnapshot `json:"types"`
	Totals  TypeSnapshot   `json:"totals"`
	TakenAt time.Time      `json:"taken_at"`
}

// Monitor records event outcomes. Safe for concurrent use.
type Monitor struct {
	stats *xsync.MapOf[event.Type, *typeStats]
}

func New() *Monitor {
	return &Monitor{stats: xsync.NewMapOf[event.Type, *typeStats]()}
}

func (m *Monitor) get(t event.Type) *typeStats {
	s, _ := m.stats.LoadOrCompute(t, func() *typeStats { return &typeStats{} })
	return s
}

func (m *Monitor) RecordPublished(t event.Type) {
	m.get(t).published.Add(1)
	telemetry.EventsPublishedTotal.With(string(t)).Inc()
}

func (m *Monitor) RecordProcessed(t event.Type, took time.Duration) {
	s := m.get(t)
	s.processed.Add(1)
	s.handleNanos.Add(int64(took))
	telemetry.EventsProcessedTotal.With(string(t)).Inc()
}

func (m *Monitor) RecordFailed(t event.Type) {
	m.get(t).failed.Add(1)
	telemetry.EventsFailedTotal.With(string(t)).Inc()
}

func (m *Monitor) RecordBackpressure(t event.Type, waited time.Duration) {
	m.get(t).backpressure.Add(1)
	telemetry.BackpressureTotal.With(string(t)).Inc()
	telemetry.BackpressureWaitSeconds.Observe(waited.Seconds())
}

// Snapshot returns counters for every type seen so far, sorted by type name.
func (m *Monitor) Snapshot() Snapshot {
	snap := Snapshot{TakenAt: time.Now()}
	var totalNanos int64

	m.stats.Range(func(t event.Type, s *typeStats) bool {
		ts := TypeSnapshot{
			Type:         t,
			Published:    s.published.Load(),
			Processed:    s.processed.Load(),
			Failed:       s.failed.Load(),
			Backpressure: s.backpressure.Load(),
		}
		nanos := s.handleNanos.Load()
		if ts.Processed > 0 {
			ts.AvgHandle = time.Duration(nanos / ts.Processed)
		}
		totalNanos += nanos

		snap.Totals.Published += ts.Published
		snap.Totals.Processed += ts.Processed
		snap.Totals.Failed += ts.Failed
		snap.Totals.Backpressure += ts.Backpressure
		snap.Types = append(snap.Types, ts)
		return true
	})

	if snap.Totals.Processed > 0 {
		snap.Totals.AvgHandle = time.Duration(totalNanos / snap.Totals.Processed)
	}
	sort.Slice(snap.Types, func(i, j int) bool { return snap.Types[i].Type < snap.Types[j].Type })
	return snap
}

// For returns the snapshot of a single type; zero values when never seen.
func (m *Monitor) For(t event.Type) TypeSnapshot {
	for _, ts := range m.Snapshot().Types {
		if ts.Type == t {
			return ts
		}
	}
	return TypeSnapshot{Type: t}
}

package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/engage/engine"
)

// Stats tracks benchmark statistics using atomic operations.
type Stats struct {
	ops    [numOps]atomic.Uint64
	errors [numOps]atomic.Uint64

	// Publish latency in microseconds, including backpressure waits
	mu        sync.Mutex
	latencies []int64
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{
		latencies: make([]int64, 0, 100000),
	}
}

// RecordOp records a published operation.
func (s *Stats) RecordOp(opType OpType, latency time.Duration) {
	s.ops[opType].Add(1)

	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

// RecordError records a rejected publish.
func (s *Stats) RecordError(opType OpType) {
	s.errors[opType].Add(1)
}

// Ops returns published operations of one type.
func (s *Stats) Ops(opType OpType) uint64 {
	return s.ops[opType].Load()
}

// TotalOps returns total published operations.
func (s *Stats) TotalOps() uint64 {
	var n uint64
	for i := range s.ops {
		n += s.ops[i].Load()
	}
	return n
}

// TotalErrors returns total errors.
func (s *Stats) TotalErrors() uint64 {
	var n uint64
	for i := range s.errors {
		n += s.errors[i].Load()
	}
	return n
}

// GetLatencyPercentiles returns p50, p90, p95, p99 in microseconds.
func (s *Stats) GetLatencyPercentiles() (p50, p90, p95, p99 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]int64, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	p50 = sorted[n*50/100]
	p90 = sorted[n*90/100]
	p95 = sorted[n*95/100]
	p99 = sorted[n*99/100]

	return p50, p90, p95, p99
}

// GetLatencyStats returns min, max, avg in microseconds.
func (s *Stats) GetLatencyStats() (lo, hi, avg int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0
	}

	lo, hi = s.latencies[0], s.latencies[0]
	var sum int64
	for _, l := range s.latencies {
		lo = min(lo, l)
		hi = max(hi, l)
		sum += l
	}

	return lo, hi, sum / int64(len(s.latencies))
}

// Snapshot returns a copy of current counters.
type Snapshot struct {
	Ops    uint64
	Errors uint64
}

// GetSnapshot returns current stats snapshot.
func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{Ops: s.TotalOps(), Errors: s.TotalErrors()}
}

// PrintFinal prints final statistics.
func (s *Stats) PrintFinal(elapsed time.Duration, es engine.Stats) {
	totalOps := s.TotalOps()
	throughput := float64(totalOps) / elapsed.Seconds()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f events/sec\n", throughput)
	fmt.Println()

	fmt.Println("Published:")
	for op := OpType(0); op < numOps; op++ {
		fmt.Printf("  %-9s %d\n", op.String()+":", s.Ops(op))
	}
	fmt.Printf("  %-9s %d\n", "TOTAL:", totalOps)
	fmt.Println()

	if errs := s.TotalErrors(); errs > 0 {
		fmt.Println("Errors:")
		for op := OpType(0); op < numOps; op++ {
			if n := s.errors[op].Load(); n > 0 {
				fmt.Printf("  %-9s %d\n", op.String()+":", n)
			}
		}
		fmt.Printf("  Total errors:  %d\n", errs)
		fmt.Println()
	}

	fmt.Println("Engine:")
	fmt.Printf("  Processed:     %d\n", es.Events.Totals.Processed)
	fmt.Printf("  Failed:        %d\n", es.Events.Totals.Failed)
	fmt.Printf("  Backpressure:  %d\n", es.Events.Totals.Backpressure)
	fmt.Printf("  Cached keys:   %d\n", es.CachedKeys)
	fmt.Printf("  Dirty keys:    %d\n", es.DirtyKeys)
	fmt.Println()

	lo, hi, avg := s.GetLatencyStats()
	p50, p90, p95, p99 := s.GetLatencyPercentiles()

	fmt.Println("Publish latency (microseconds):")
	fmt.Printf("  Min:   %d\n", lo)
	fmt.Printf("  Avg:   %d\n", avg)
	fmt.Printf("  Max:   %d\n", hi)
	fmt.Printf("  P50:   %d\n", p50)
	fmt.Printf("  P90:   %d\n", p90)
	fmt.Printf("  P95:   %d\n", p95)
	fmt.Printf("  P99:   %d\n", p99)
}

package hlc

import (
	"sync"
	"time"
)

// Clock is a hybrid logical clock. Timestamps it hands out are strictly
// increasing even when the wall clock stalls or steps backwards.
type Clock struct {
	nodeID   uint64
	wallTime int64
	logical  int32
	lastMS   int64
	mu       sync.Mutex
}

// Timestamp orders events produced by one engine instance
type Timestamp struct {
	WallTime int64  `msgpack:"w" json:"wall"`
	Logical  int32  `msgpack:"l" json:"logical"`
	NodeID   uint64 `msgpack:"n" json:"node"`
}

// NewClock creates a new HLC instance
func NewClock(nodeID uint64) *Clock {
	now := time.Now().UnixNano()
	return &Clock{
		nodeID:   nodeID,
		wallTime: now,
		lastMS:   now / 1_000_000,
	}
}

// MaxLogical is the maximum value for logical counter before overflow
const MaxLogical = LogicalMask

// Now returns the next timestamp
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := time.Now().UnixNano()
	currentMS := physicalNow / 1_000_000

	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
	}

	// Logical resets each millisecond so ToID never spills into the time bits
	if currentMS > c.lastMS {
		c.lastMS = currentMS
		c.logical = 0
	}

	for c.logical >= MaxLogical {
		time.Sleep(100 * time.Microsecond)
		now := time.Now().UnixNano()
		nowMS := now / 1_000_000
		if nowMS > c.lastMS {
			c.wallTime = now
			c.lastMS = nowMS
			c.logical = 0
			break
		}
	}

	c.logical++

	return Timestamp{
		WallTime: c.wallTime,
		Logical:  c.logical,
		NodeID:   c.nodeID,
	}
}

// Compare returns -1, 0 or 1 as a is before, equal to or after b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime != b.WallTime:
		return cmp(a.WallTime, b.WallTime)
	case a.Logical != b.Logical:
		return cmp(int64(a.Logical), int64(b.Logical))
	case a.NodeID < b.NodeID:
		return -1
	case a.NodeID > b.NodeID:
		return 1
	}
	return 0
}

func cmp(a, b int64) int {
	if a < b {
		return -1
	}
	return 1
}

// Less returns true if a happened before b
func Less(a, b Timestamp) bool {
	return Compare(a, b) < 0
}

// IsZero reports whether t was never assigned
func (t Timestamp) IsZero() bool {
	return t.WallTime == 0 && t.Logical == 0
}

// PhysicalTime returns the physical time component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

// String returns a human-readable representation
func (t Timestamp) String() string {
	return t.PhysicalTime().Format(time.RFC3339Nano)
}

// LogicalBits is the number of bits reserved for the logical counter in IDs.
const LogicalBits = 16

// LogicalMask masks the logical counter to 16 bits
const LogicalMask = (1 << LogicalBits) - 1

// NodeIDBits is the number of bits reserved for node ID in IDs.
const NodeIDBits = 6

// NodeIDMask masks the node ID to 6 bits
const NodeIDMask = (1 << NodeIDBits) - 1

// TotalShiftBits is the total bits to shift wall time (NodeIDBits + LogicalBits)
const TotalShiftBits = NodeIDBits + LogicalBits

// ToID packs a timestamp into a roughly time-ordered 64 bit identifier.
// Format: (physical_ms << 22) | (node_id << 16) | logical
func (t Timestamp) ToID() uint64 {
	physicalMS := uint64(t.WallTime / 1_000_000)
	nodeID := t.NodeID & NodeIDMask
	logical := uint64(t.Logical) & LogicalMask
	return (physicalMS << TotalShiftBits) | (nodeID << LogicalBits) | logical
}

package id

import (
	"sync"
	"time"
)

// Bit layout of a transaction ID: (unix_ms << 22) | (node_id << 16) | logical
const (
	logicalBits = 16
	nodeIDBits  = 6
	shiftBits   = nodeIDBits + logicalBits

	logicalMask = (1 << logicalBits) - 1
	nodeIDMask  = (1 << nodeIDBits) - 1
)

// Generator provides unique transaction IDs.
type Generator interface {
	NextID() uint64
}

// ClockGenerator hands out roughly time-ordered IDs that are unique per node.
// Safe for concurrent use.
type ClockGenerator struct {
	nodeID  uint64
	lastMS  int64
	logical uint64
	mu      sync.Mutex
	now     func() time.Time
}

// NewClockGenerator creates a generator for the given node.
// Only the low 6 bits of nodeID end up in the ID.
func NewClockGenerator(nodeID uint64) *ClockGenerator {
	return &ClockGenerator{
		nodeID: nodeID & nodeIDMask,
		now:    time.Now,
	}
}

// NextID returns the next ID. When the logical counter for the current
// millisecond is exhausted it waits for the clock to advance.
func (g *ClockGenerator) NextID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMS {
		// Clock went backwards; keep issuing from the last millisecond seen.
		ms = g.lastMS
	}
	if ms > g.lastMS {
		g.lastMS = ms
		g.logical = 0
	}

	for g.logical >= logicalMask {
		time.Sleep(100 * time.Microsecond)
		if now := g.now().UnixMilli(); now > g.lastMS {
			g.lastMS = now
			g.logical = 0
		}
	}

	g.logical++
	return uint64(g.lastMS)<<shiftBits | g.nodeID<<logicalBits | g.logical
}

// NodeOf extracts the node bits from an ID produced by ClockGenerator.
func NodeOf(id uint64) uint64 {
	return (id >> logicalBits) & nodeIDMask
}

// TimeOf extracts the wall-clock millisecond an ID was issued in.
func TimeOf(id uint64) time.Time {
	return time.UnixMilli(int64(id >> shiftBits))
}

// Package stats holds the atomic, allocator-wide counters that the
// metrics exporter and cmd/ckgo-trace's final report read. All fields are updated with
// sync/atomic from core so they can be read concurrently by the metrics
// collector without taking the core lock.
package stats

import "sync/atomic"

// Counters is a fixed set of atomic allocator-wide counters.
type Counters struct {
	BytesAllocated atomic.Uint64
	BytesFreed     atomic.Uint64

	LiveSmallSlabs  atomic.Int64
	LiveBlockedSlabs atomic.Int64
	LiveSingleSlabs atomic.Int64

	SmallAllocs atomic.Uint64
	SmallFrees  atomic.Uint64
	LargeAllocs atomic.Uint64
	LargeFrees  atomic.Uint64

	// SliceLive tracks outstanding slices per size class, indexed 0..8.
	SliceLive [9]atomic.Int64
}

// New creates a zeroed Counters.
func New() *Counters { return &Counters{} }

// RecordSmallAlloc updates the counters for a small-allocator hit.
func (c *Counters) RecordSmallAlloc(class uint8, size uint64) {
	c.SmallAllocs.Add(1)
	c.BytesAllocated.Add(size)
	c.SliceLive[class].Add(1)
}

// RecordSmallFree updates the counters for a small-allocator free.
func (c *Counters) RecordSmallFree(class uint8, size uint64) {
	c.SmallFrees.Add(1)
	c.BytesFreed.Add(size)
	c.SliceLive[class].Add(-1)
}

// RecordLargeAlloc updates the counters for a large-allocator hit.
func (c *Counters) RecordLargeAlloc(size uint64) {
	c.LargeAllocs.Add(1)
	c.BytesAllocated.Add(size)
}

// RecordLargeFree updates the counters for a large-allocator free.
func (c *Counters) RecordLargeFree(size uint64) {
	c.LargeFrees.Add(1)
	c.BytesFreed.Add(size)
}

// LiveBytes returns bytes allocated minus bytes freed.
func (c *Counters) LiveBytes() uint64 {
	return c.BytesAllocated.Load() - c.BytesFreed.Load()
}

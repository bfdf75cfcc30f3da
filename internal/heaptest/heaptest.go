// Package heaptest wires up a hermetic slab manager over a FakeProvider,
// shared by the internal/*_test.go files that need a working
// metadata+slabmap+slabmanager stack without pulling in internal/core.
package heaptest

import (
	"testing"

	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/metadata"
	"github.com/nmxmxh/ckgo/internal/slabmanager"
	"github.com/nmxmxh/ckgo/internal/slabmap"
)

// NewSlabManager creates a slab manager over a FakeProvider capped at
// maxSize bytes.
func NewSlabManager(t *testing.T, maxSize uint64) *slabmanager.Manager {
	t.Helper()
	p := heap.NewFake(maxSize)
	meta := metadata.New(p)
	smap := slabmap.New(meta)
	return slabmanager.New(p, meta, smap, nil, nil)
}

// NewProviderAndSlabManager is the same as NewSlabManager but also returns
// the underlying provider, for callers (the large allocator's tests) that
// need direct access to the heap bytes.
func NewProviderAndSlabManager(t *testing.T, maxSize uint64) (heap.Provider, *slabmanager.Manager) {
	t.Helper()
	p := heap.NewFake(maxSize)
	meta := metadata.New(p)
	smap := slabmap.New(meta)
	return p, slabmanager.New(p, meta, smap, nil, nil)
}

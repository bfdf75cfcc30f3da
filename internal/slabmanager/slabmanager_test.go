package slabmanager_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ckgo/internal/heaptest"
	"github.com/nmxmxh/ckgo/internal/slab"
)

func TestAllocFreeRoundTripSinglePage(t *testing.T) {
	_, mgr := heaptest.NewProviderAndSlabManager(t, 16*1024*1024)

	m := mgr.Alloc(1, slab.Blocked, nil)
	require.NotNil(t, m)
	assert.Equal(t, uint32(1), m.NPages)

	mgr.Free(m)
	assert.Equal(t, slab.Free, m.Type)

	again := mgr.Alloc(1, slab.Blocked, nil)
	require.NotNil(t, again)
	assert.Equal(t, m.Start, again.Start, "the single-page LIFO list should hand back the just-freed page first")
}

func TestTakeFreeRegistersSplitRemainderInSlabMap(t *testing.T) {
	_, mgr := heaptest.NewProviderAndSlabManager(t, 16*1024*1024)

	big := mgr.Alloc(10, slab.Blocked, nil)
	require.NotNil(t, big)
	mgr.Free(big)

	small := mgr.Alloc(3, slab.Blocked, nil)
	require.NotNil(t, small)
	assert.Equal(t, uint32(3), small.NPages)

	remainderStart := small.Start.Add(3)
	owner := mgr.SlabMap().FindSlab(remainderStart)
	require.NotNil(t, owner, "the tail left over by a split must be registered in the slab map, or a later Free can never find it to coalesce")
	assert.Equal(t, slab.Free, owner.Type)
	assert.Equal(t, uint32(7), owner.NPages)
}

func TestFreeCoalescesSlabSplitBySmallerAlloc(t *testing.T) {
	provider, mgr := heaptest.NewProviderAndSlabManager(t, 64*1024*1024)

	big := mgr.Alloc(49, slab.Blocked, nil)
	require.NotNil(t, big)
	mgr.Free(big)

	small := mgr.Alloc(3, slab.Blocked, nil)
	require.NotNil(t, small)
	mgr.Free(small)

	committedBefore := provider.Committed()
	reused := mgr.Alloc(49, slab.Blocked, nil)
	require.NotNil(t, reused)
	assert.Equal(t, committedBefore, provider.Committed(),
		"the 3-page and 46-page free runs left by the split should have recoalesced into one 49-page run and satisfied this request without extending the heap")
}

func TestFreeCoalescesAdjacentRuns(t *testing.T) {
	_, mgr := heaptest.NewProviderAndSlabManager(t, 16*1024*1024)

	// The first Alloc also commits the slab map's first metadata page right
	// after its own run; take it here so that a, b and c are contiguous.
	first := mgr.Alloc(1, slab.Blocked, nil)
	require.NotNil(t, first)

	a := mgr.Alloc(4, slab.Blocked, nil)
	b := mgr.Alloc(4, slab.Blocked, nil)
	c := mgr.Alloc(4, slab.Blocked, nil)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)
	start := a.Start // a's record is recycled once b's free merges it

	mgr.Free(a)
	mgr.Free(c)
	mgr.Free(b)

	owner := mgr.SlabMap().FindSlab(start)
	require.NotNil(t, owner)
	assert.Equal(t, slab.Free, owner.Type)
	assert.Equal(t, uint32(12), owner.NPages, "freeing the middle run last should merge all three into one run")
}

func TestResizeGrowConsumesFreeSuccessor(t *testing.T) {
	_, mgr := heaptest.NewProviderAndSlabManager(t, 16*1024*1024)

	// Commit the slab map's first metadata page up front so it does not
	// land between m and tail.
	first := mgr.Alloc(1, slab.Blocked, nil)
	require.NotNil(t, first)

	m := mgr.Alloc(4, slab.Blocked, nil)
	require.NotNil(t, m)
	tail := mgr.Alloc(4, slab.Blocked, nil)
	require.NotNil(t, tail)
	mgr.Free(tail)

	ok := mgr.Resize(m, 6)
	require.True(t, ok)
	assert.Equal(t, uint32(6), m.NPages)

	owner := mgr.SlabMap().FindSlab(m.Start.Add(5))
	assert.Same(t, m, owner, "the grown range must be re-mapped to the owning slab")

	remainder := mgr.SlabMap().FindSlab(m.Start.Add(6))
	require.NotNil(t, remainder, "the leftover 2 pages from the consumed successor must still be mapped")
	assert.Equal(t, slab.Free, remainder.Type)
	assert.Equal(t, uint32(2), remainder.NPages)
}

func TestResizeGrowFailsWithoutFreeSuccessor(t *testing.T) {
	_, mgr := heaptest.NewProviderAndSlabManager(t, 16*1024*1024)

	// Commit the slab map's first metadata page up front so that m's
	// successor is other, not the metadata page.
	first := mgr.Alloc(1, slab.Blocked, nil)
	require.NotNil(t, first)

	m := mgr.Alloc(4, slab.Blocked, nil)
	require.NotNil(t, m)
	other := mgr.Alloc(4, slab.Blocked, nil)
	require.NotNil(t, other)

	ok := mgr.Resize(m, 6)
	assert.False(t, ok, "growing into a live neighbor must fail")
	assert.Equal(t, uint32(4), m.NPages)
}

func TestResizeShrinkFreesTail(t *testing.T) {
	_, mgr := heaptest.NewProviderAndSlabManager(t, 16*1024*1024)

	m := mgr.Alloc(6, slab.Blocked, nil)
	require.NotNil(t, m)

	ok := mgr.Resize(m, 2)
	require.True(t, ok)
	assert.Equal(t, uint32(2), m.NPages)

	tail := mgr.SlabMap().FindSlab(m.Start.Add(2))
	require.NotNil(t, tail)
	assert.Equal(t, slab.Free, tail.Type)
	assert.Equal(t, uint32(4), tail.NPages)
}

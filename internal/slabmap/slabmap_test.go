package slabmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/metadata"
	"github.com/nmxmxh/ckgo/internal/pageid"
	"github.com/nmxmxh/ckgo/internal/slab"
	"github.com/nmxmxh/ckgo/internal/slabmap"
)

func newMap(t *testing.T) *slabmap.Map {
	t.Helper()
	p := heap.NewFake(16 * 1024 * 1024)
	return slabmap.New(metadata.New(p))
}

func TestFindSlabUnallocatedPathReturnsNil(t *testing.T) {
	m := newMap(t)
	assert.Nil(t, m.FindSlab(pageid.ID(5)))
}

func TestInsertRangeAndFindSlab(t *testing.T) {
	m := newMap(t)
	owner := &slab.Meta{Type: slab.Small, NPages: 2}

	require.True(t, m.AllocatePath(10, 12))
	m.InsertRange(10, 12, owner, 3)

	assert.Same(t, owner, m.FindSlab(10))
	assert.Same(t, owner, m.FindSlab(11))
	assert.Nil(t, m.FindSlab(12), "range end is exclusive")

	class, ok := m.FindSizeClass(10)
	require.True(t, ok)
	assert.Equal(t, uint8(3), class)
}

func TestDeallocatePathClearsPresence(t *testing.T) {
	m := newMap(t)
	owner := &slab.Meta{Type: slab.Blocked, NPages: 4}

	require.True(t, m.AllocatePath(0, 4))
	m.InsertRange(0, 4, owner, 0)

	m.DeallocatePath(1, 3)
	assert.Same(t, owner, m.FindSlab(0))
	assert.Nil(t, m.FindSlab(1))
	assert.Nil(t, m.FindSlab(2))
	assert.Same(t, owner, m.FindSlab(3))
}

func TestDeallocatePathReclaimsEmptyNodes(t *testing.T) {
	m := newMap(t)
	owner := &slab.Meta{Type: slab.Blocked, NPages: 1}

	require.True(t, m.AllocatePath(0, 1))
	m.InsertRange(0, 1, owner, 0)
	m.DeallocatePath(0, 1)

	assert.Nil(t, m.FindSlab(0))
	// The radix nodes freed above must be reusable rather than leaked:
	// allocating the same path again should succeed without touching the
	// metadata manager's bump allocator, since it comes back off the
	// node freelists.
	require.True(t, m.AllocatePath(0, 1))
	m.InsertRange(0, 1, owner, 0)
	assert.Same(t, owner, m.FindSlab(0))
}

func TestInsertRangeAcrossLeafBoundaryIsIndependentlyAddressable(t *testing.T) {
	m := newMap(t)
	a := &slab.Meta{Type: slab.Small, NPages: 1}
	b := &slab.Meta{Type: slab.Small, NPages: 1}

	// level2Bits is 5, so page 31 and page 32 land in different leaves
	// under the same or a different mid node depending on level1Bits; the
	// point of this test is just that adjacent pages straddling that
	// boundary don't bleed into each other's owner.
	require.True(t, m.AllocatePath(31, 33))
	m.InsertRange(31, 32, a, 1)
	m.InsertRange(32, 33, b, 2)

	assert.Same(t, a, m.FindSlab(31))
	assert.Same(t, b, m.FindSlab(32))
}

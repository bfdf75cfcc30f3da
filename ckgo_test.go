package ckgo_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ckgo"
	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/core"
)

// heapFixture wires up a hermetic Core over a FakeProvider and exposes the
// heap base address, so scenario assertions can talk about pointers as
// offsets from the heap base instead of raw addresses.
type heapFixture struct {
	provider *heap.FakeProvider
	core     *core.Core
}

func newFixture(t *testing.T) *heapFixture {
	t.Helper()
	p := heap.NewFake(64 * 1024 * 1024)
	c := ckgo.New(ckgo.WithProvider(p))
	return &heapFixture{provider: p, core: c}
}

func (f *heapFixture) base() uintptr {
	mem := f.provider.Bytes() // only valid once something has committed heap pages
	return uintptr(unsafe.Pointer(&mem[0]))
}

func (f *heapFixture) offset(ptr unsafe.Pointer) uintptr {
	return uintptr(ptr) - f.base()
}

func TestScenarioS1SingleSmall(t *testing.T) {
	f := newFixture(t)
	p := f.core.Malloc(24)
	require.NotNil(t, p)
	assert.Equal(t, uintptr(0), f.offset(p), "first allocation should land at heap base")

	usable := f.core.UsableSize(p)
	assert.GreaterOrEqual(t, usable, 24)
	assert.LessOrEqual(t, usable, 32)

	f.core.Free(p)
}

func TestScenarioS2SplitCoalesce(t *testing.T) {
	f := newFixture(t)
	a := f.core.Malloc(1024)
	b := f.core.Malloc(1024)
	c := f.core.Malloc(1024)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)

	f.core.Free(b)
	f.core.Free(a)
	f.core.Free(c)
}

func TestScenarioS3ReallocInPlaceGrow(t *testing.T) {
	f := newFixture(t)
	p := f.core.Malloc(200)
	require.NotNil(t, p)
	// Carve a neighboring block and free it so p has trailing free space to
	// grow into without moving.
	trailer := f.core.Malloc(200)
	require.NotNil(t, trailer)
	f.core.Free(trailer)

	q := f.core.Realloc(p, 250)
	require.NotNil(t, q)
	assert.Equal(t, p, q, "growing into the trailing free space should resize in place")
}

func TestScenarioS3bReallocCrossClassMoves(t *testing.T) {
	f := newFixture(t)
	p := f.core.Malloc(64)
	require.NotNil(t, p)
	q := f.core.Realloc(p, 96)
	require.NotNil(t, q)
	assert.NotEqual(t, p, q, "64 and 96 are distinct small size classes, so realloc must move")
}

func TestScenarioS4ReallocMove(t *testing.T) {
	f := newFixture(t)
	p := f.core.Malloc(64)
	require.NotNil(t, p)
	pin := f.core.Malloc(64)
	require.NotNil(t, pin)

	src := unsafe.Slice((*byte)(p), 64)
	for i := range src {
		src[i] = byte(i)
	}

	q := f.core.Realloc(p, 1024)
	require.NotNil(t, q)
	assert.NotEqual(t, p, q, "next block pinned, so realloc must move")

	got := unsafe.Slice((*byte)(q), 64)
	for i := 0; i < 64; i++ {
		assert.Equal(t, byte(i), got[i])
	}
}

func TestScenarioS5LargeSingleAlloc(t *testing.T) {
	f := newFixture(t)
	p := f.core.Malloc(200000)
	require.NotNil(t, p)
	assert.Equal(t, uintptr(0), f.offset(p)%4096)
	f.core.Free(p)
}

func TestScenarioS6Aligned(t *testing.T) {
	f := newFixture(t)
	p := f.core.AlignedAlloc(4096, 128)
	require.NotNil(t, p)
	assert.Equal(t, uintptr(0), f.offset(p)%4096)
	assert.GreaterOrEqual(t, f.core.UsableSize(p), 128)
}

func TestScenarioS7CallocZero(t *testing.T) {
	f := newFixture(t)
	p := f.core.Calloc(100, 8)
	require.NotNil(t, p)
	got := unsafe.Slice((*byte)(p), 800)
	for _, b := range got {
		assert.Equal(t, byte(0), b)
	}
}

func TestFreeNilAndMallocZero(t *testing.T) {
	f := newFixture(t)
	f.core.Free(nil) // must not panic
	assert.Nil(t, f.core.Malloc(0))
}

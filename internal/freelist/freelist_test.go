package freelist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// seedFree writes a single free block spanning [off, off+size) with a
// phony allocated header placed right after it, and indexes it.
func seedFree(t *testing.T, fl *Freelist, mem []byte, off uint32, size uint64) {
	t.Helper()
	InitHeader(mem, off, size, true, false)
	WriteFooter(mem, off, size)
	end := off + uint32(size)
	if int(end)+headerSize <= len(mem) {
		WritePhonyEnd(mem, end)
	}
	fl.insert(mem, off, size)
}

func TestFreelistFindFreeAndSplitSmall(t *testing.T) {
	mem := newMem(4096)
	fl := New()
	seedFree(t, fl, mem, 0, 256)

	off, ok := fl.FindFree(mem, 64)
	require.True(t, ok)
	require.Equal(t, uint32(0), off)

	alloc := fl.Split(mem, off, requiredBlockSize(64))
	require.Equal(t, uint32(0), alloc)
	require.False(t, IsFree(mem, alloc))
	require.GreaterOrEqual(t, UserCapacity(BlockSize(mem, alloc)), uint64(64))

	// The remainder should have been reinserted as free.
	tailOff := alloc + uint32(BlockSize(mem, alloc))
	require.True(t, IsFree(mem, tailOff))
	require.True(t, PrevFree(mem, tailOff) == false, "tail's own header does not describe itself")
}

func TestFreelistMarkFreeCoalescesNeighbors(t *testing.T) {
	mem := newMem(4096)
	fl := New()

	// Three adjacent 64-byte blocks: free, allocated, free.
	InitHeader(mem, 0, 64, true, false)
	WriteFooter(mem, 0, 64)
	fl.insert(mem, 0, 64)

	InitHeader(mem, 64, 64, false, true)

	InitHeader(mem, 128, 64, true, false)
	WriteFooter(mem, 128, 64)
	fl.insert(mem, 128, 64)
	WritePhonyEnd(mem, 192)

	merged := fl.MarkFree(mem, 64)
	require.Equal(t, uint32(0), merged)
	require.True(t, IsFree(mem, merged))
	require.Equal(t, uint64(192), BlockSize(mem, merged), "coalesced block should span all three originals")
}

func TestFreelistFindFreeUsesTreeAboveThreshold(t *testing.T) {
	mem := newMem(64 * 1024)
	fl := New()
	const bigSize = 16 * 1024
	seedFree(t, fl, mem, 0, bigSize)

	off, ok := fl.FindFree(mem, 10*1024)
	require.True(t, ok)
	require.Equal(t, uint32(0), off)

	alloc := fl.Split(mem, off, requiredBlockSize(10*1024))
	require.False(t, IsFree(mem, alloc))

	tailOff := alloc + uint32(BlockSize(mem, alloc))
	require.True(t, IsFree(mem, tailOff))
	require.Equal(t, uint64(bigSize)-BlockSize(mem, alloc), BlockSize(mem, tailOff))
}

func TestFreelistResizeInPlaceGrowAndShrink(t *testing.T) {
	mem := newMem(4096)
	fl := New()

	InitHeader(mem, 0, 64, false, false)
	InitHeader(mem, 64, 128, true, false)
	WriteFooter(mem, 64, 128)
	fl.insert(mem, 64, 128)
	WritePhonyEnd(mem, 192)

	ok := fl.ResizeInPlace(mem, 0, 160)
	require.True(t, ok)
	require.Equal(t, uint64(160), BlockSize(mem, 0))

	ok = fl.ResizeInPlace(mem, 0, 64)
	require.True(t, ok)
	require.Equal(t, uint64(64), BlockSize(mem, 0))
	require.True(t, IsFree(mem, 64), "shrinking should release the tail back to the freelist")
}

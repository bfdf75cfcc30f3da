package freelist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinSetPushFindRemove(t *testing.T) {
	mem := newMem(4096)
	bins := newBinSet()

	InitHeader(mem, 0, 64, true, false)
	InitHeader(mem, 64, 64, true, false)
	bins.push(mem, 0, 64)
	bins.push(mem, 64, 64)

	off, ok := bins.findFrom(binIndex(64))
	require.True(t, ok)
	require.Equal(t, uint32(64), off, "most recently pushed block should be found first")

	bins.remove(mem, 64, 64)
	off, ok = bins.findFrom(binIndex(64))
	require.True(t, ok)
	require.Equal(t, uint32(0), off)

	bins.remove(mem, 0, 64)
	_, ok = bins.findFrom(binIndex(64))
	require.False(t, ok, "bin should be empty and unset in the occupancy bitset")
}

func TestBinSetFindFromSmallestLarger(t *testing.T) {
	mem := newMem(4096)
	bins := newBinSet()

	InitHeader(mem, 0, 128, true, false)
	bins.push(mem, 0, 128)

	off, ok := bins.findFrom(binIndex(32))
	require.True(t, ok)
	require.Equal(t, uint32(0), off)
}

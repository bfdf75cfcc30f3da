package smallalloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ckgo/internal/heaptest"
	"github.com/nmxmxh/ckgo/internal/slab"
	"github.com/nmxmxh/ckgo/internal/smallalloc"
)

func TestClassOf(t *testing.T) {
	cases := []struct {
		size  uint64
		class uint8
		ok    bool
	}{
		{0, 0, true},
		{8, 0, true},
		{9, 1, true},
		{128, 8, true},
		{129, 0, false},
	}
	for _, c := range cases {
		class, ok := smallalloc.ClassOf(c.size)
		assert.Equal(t, c.ok, ok)
		if ok {
			assert.Equal(t, c.class, class)
		}
	}
}

func TestAllocFreeReusesSlice(t *testing.T) {
	sm := heaptest.NewSlabManager(t, 4*1024*1024)
	a := smallalloc.New(sm)

	m1, off1 := a.AllocSmall(2)
	require.NotNil(t, m1)
	a.FreeSmall(m1, off1)

	m2, off2 := a.AllocSmall(2)
	require.NotNil(t, m2)
	assert.Equal(t, m1, m2)
	assert.Equal(t, off1, off2, "freeing the only slice releases the slab; the next alloc gets the same page back with a fresh free stack")
}

func TestFreeingEveryAllocationReleasesSlab(t *testing.T) {
	sm := heaptest.NewSlabManager(t, 4*1024*1024)
	a := smallalloc.New(sm)

	const class = 0
	sliceSize := smallalloc.SliceSize(class)
	total := int(4096 / sliceSize)

	var metas []*slab.Meta
	var offs []uint32
	for i := 0; i < total; i++ {
		m, off := a.AllocSmall(class)
		require.NotNil(t, m)
		metas = append(metas, m)
		offs = append(offs, off)
	}

	for i := range metas {
		a.FreeSmall(metas[i], offs[i])
	}

	m, _ := a.AllocSmall(class)
	require.NotNil(t, m)
	assert.Equal(t, uint32(1), m.UsedSlices, "should have gotten a fresh slab with exactly one used slice")
}

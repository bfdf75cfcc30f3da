package tcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/metadata"
	"github.com/nmxmxh/ckgo/internal/slab"
	"github.com/nmxmxh/ckgo/internal/slabmanager"
	"github.com/nmxmxh/ckgo/internal/slabmap"
	"github.com/nmxmxh/ckgo/internal/smallalloc"
	"github.com/nmxmxh/ckgo/internal/tcache"
)

func newSmallAlloc(t *testing.T) *smallalloc.Allocator {
	t.Helper()
	p := heap.NewFake(4 * 1024 * 1024)
	meta := metadata.New(p)
	smap := slabmap.New(meta)
	sm := slabmanager.New(p, meta, smap, nil, nil)
	return smallalloc.New(sm)
}

func TestCachePushPopLIFO(t *testing.T) {
	a := newSmallAlloc(t)
	cache := tcache.New()

	m1, off1 := a.AllocSmall(0)
	require.NotNil(t, m1)
	m2, off2 := a.AllocSmall(0)
	require.NotNil(t, m2)

	cache.Push(0, m1, off1)
	cache.Push(0, m2, off2)
	assert.Equal(t, 2, cache.Count())

	gotM, gotOff, ok := cache.Pop(0)
	require.True(t, ok)
	assert.Equal(t, m2, gotM)
	assert.Equal(t, off2, gotOff)
	assert.Equal(t, 1, cache.Count())
}

func TestCacheFlushThreshold(t *testing.T) {
	a := newSmallAlloc(t)
	cache := tcache.New()

	var flush bool
	for i := 0; i < tcache.FlushThreshold; i++ {
		m, off := a.AllocSmall(0)
		require.NotNil(t, m)
		flush = cache.Push(0, m, off)
	}
	assert.True(t, flush, "crossing FlushThreshold should signal a flush")
}

func TestCacheDrainVisitsEveryEntryAndEmpties(t *testing.T) {
	a := newSmallAlloc(t)
	cache := tcache.New()

	for class := uint8(0); class < 3; class++ {
		m, off := a.AllocSmall(class)
		require.NotNil(t, m)
		cache.Push(class, m, off)
	}

	visited := 0
	cache.Drain(func(class uint8, owner *slab.Meta, off uint32) {
		visited++
	})
	assert.Equal(t, 3, visited)
	assert.Equal(t, 0, cache.Count())
}

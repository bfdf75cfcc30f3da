package core_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/core"
)

func newCore(t *testing.T) *core.Core {
	t.Helper()
	return core.New(core.WithProvider(heap.NewFake(16 * 1024 * 1024)))
}

func TestMallocFreeRoundTrip(t *testing.T) {
	c := newCore(t)
	p := c.Malloc(40)
	require.NotNil(t, p)
	c.Free(p)

	// The freed slice should be reusable by an identically sized request.
	q := c.Malloc(40)
	require.NotNil(t, q)
	assert.Equal(t, p, q)
}

func TestDebugDumpListsSlabs(t *testing.T) {
	c := newCore(t)
	p := c.Malloc(4000)
	require.NotNil(t, p)

	var buf bytes.Buffer
	c.DebugDump(&buf)
	assert.Contains(t, buf.String(), "slab type=")
}

// Package tcache implements the per-thread (per-goroutine, in Go terms)
// allocation cache sitting in front of the small allocator: nine LIFO
// stacks, one per size class, flushed back to the core once the total
// cached slice count crosses a fixed threshold. Go has no native
// thread-local storage, so callers that want caching own a *Cache handle
// explicitly and pass it into every core call, rather than the core
// discovering it implicitly per-goroutine.
package tcache

import "github.com/nmxmxh/ckgo/internal/slab"

// FlushThreshold is the total cached slice count across all classes that
// triggers an automatic flush back to the owning slabs.
const FlushThreshold = 128

const numClasses = 9

type entry struct {
	owner *slab.Meta
	off   uint32
}

// Cache is a single goroutine's small-allocation cache. It is
// unsynchronized; the owner must not share it across goroutines.
type Cache struct {
	stacks [numClasses][]entry
	count  int
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

// Pop returns a previously-cached slice of the given class, if any.
func (c *Cache) Pop(class uint8) (*slab.Meta, uint32, bool) {
	s := c.stacks[class]
	if len(s) == 0 {
		return nil, 0, false
	}
	e := s[len(s)-1]
	c.stacks[class] = s[:len(s)-1]
	c.count--
	return e.owner, e.off, true
}

// Push caches a freed slice. It reports whether the cache has crossed
// FlushThreshold and should be flushed by the caller.
func (c *Cache) Push(class uint8, owner *slab.Meta, off uint32) bool {
	c.stacks[class] = append(c.stacks[class], entry{owner, off})
	c.count++
	return c.count >= FlushThreshold
}

// Count returns the total number of slices currently cached.
func (c *Cache) Count() int { return c.count }

// Drain removes and returns every cached entry across all classes, for
// the caller to flush back to the small allocator under the core lock. It
// leaves the cache empty.
func (c *Cache) Drain(visit func(class uint8, owner *slab.Meta, off uint32)) {
	for class := range c.stacks {
		for _, e := range c.stacks[class] {
			visit(uint8(class), e.owner, e.off)
		}
		c.stacks[class] = c.stacks[class][:0]
	}
	c.count = 0
}

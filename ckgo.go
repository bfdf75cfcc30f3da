// Package ckgo is the public entry point for the allocator: a small set
// of package-level functions mirroring the C standard library's
// malloc/free/calloc/realloc/aligned_alloc family, backed by a
// lazily-initialized global core.Core. Embedders that want an isolated
// heap (tests, multiple independent arenas in one process) should call
// New directly instead of the package-level functions.
package ckgo

import (
	"sync"
	"unsafe"

	"github.com/nmxmxh/ckgo/internal/core"
	"github.com/nmxmxh/ckgo/internal/tcache"
)

// Option configures a Core created by New. Re-exported from internal/core
// so callers never need to import an internal package.
type Option = core.Option

// WithLogger and WithMaxHeapBytes are re-exported core.Options
// constructors; see internal/core for details.
var (
	WithLogger       = core.WithLogger
	WithMaxHeapBytes = core.WithMaxHeapBytes
	WithProvider     = core.WithProvider
)

// New creates an independent allocator heap. Use this to embed multiple
// hermetic heaps in one process; the package-level Malloc/Free/... family
// below operates on a single shared global heap instead.
func New(opts ...Option) *core.Core {
	return core.New(opts...)
}

var (
	globalOnce sync.Once
	global     *core.Core
)

func globalCore() *core.Core {
	globalOnce.Do(func() {
		global = core.New()
	})
	return global
}

// Malloc allocates size bytes. Returns nil for size <= 0 or OOM.
func Malloc(size int) unsafe.Pointer {
	return globalCore().Malloc(size)
}

// Calloc allocates nmemb*size bytes, zero-filled.
func Calloc(nmemb, size int) unsafe.Pointer {
	return globalCore().Calloc(nmemb, size)
}

// Realloc resizes ptr to size bytes. A nil ptr behaves as Malloc; size 0
// behaves as Free, returning nil.
func Realloc(ptr unsafe.Pointer, size int) unsafe.Pointer {
	return globalCore().Realloc(ptr, size)
}

// AlignedAlloc returns size bytes aligned to alignment, a power of two.
func AlignedAlloc(alignment, size int) unsafe.Pointer {
	return globalCore().AlignedAlloc(alignment, size)
}

// Free releases ptr. A nil ptr is a no-op.
func Free(ptr unsafe.Pointer) {
	globalCore().Free(ptr)
}

// FreeSized is a hinted Free for callers that already know the
// allocation's size.
func FreeSized(ptr unsafe.Pointer, size int) {
	globalCore().FreeSized(ptr, size)
}

// FreeAlignedSized is a hinted Free for callers that already know the
// allocation's alignment and size.
func FreeAlignedSized(ptr unsafe.Pointer, alignment, size int) {
	globalCore().FreeAlignedSized(ptr, alignment, size)
}

// UsableSize reports the rounded-up allocation size backing ptr.
func UsableSize(ptr unsafe.Pointer) int {
	return globalCore().UsableSize(ptr)
}

// Cache is a per-goroutine allocation cache. Go has no native
// thread-local storage, so callers that want one call NewCache once per
// goroutine and pass the handle into MallocCached/FreeCached themselves.
type Cache = tcache.Cache

// NewCache creates an empty per-goroutine cache.
func NewCache() *Cache {
	return tcache.New()
}

// MallocCached is Malloc routed through tc: a small-class request that
// hits tc is served without touching the global heap's lock at all.
func MallocCached(tc *Cache, size int) unsafe.Pointer {
	return globalCore().MallocCached(tc, size)
}

// FreeCached is Free routed through tc: a small allocation goes back into
// tc instead of the small allocator, until tc crosses its flush threshold.
func FreeCached(tc *Cache, ptr unsafe.Pointer) {
	globalCore().FreeCached(tc, ptr)
}

// Package core implements the main dispatcher: the single entry point
// that routes a request by size (and, on free/realloc, by consulting the
// slab map for the owning slab's type) to the small or large allocator,
// and owns the one global lock serializing every other component.
package core

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/ckerr"
	"github.com/nmxmxh/ckgo/internal/largealloc"
	"github.com/nmxmxh/ckgo/internal/metadata"
	"github.com/nmxmxh/ckgo/internal/pageid"
	"github.com/nmxmxh/ckgo/internal/slab"
	"github.com/nmxmxh/ckgo/internal/slabmanager"
	"github.com/nmxmxh/ckgo/internal/slabmap"
	"github.com/nmxmxh/ckgo/internal/smallalloc"
	"github.com/nmxmxh/ckgo/internal/stats"
	"github.com/nmxmxh/ckgo/internal/tcache"
)

// Options configures a Core. The zero value is not usable directly; build
// one with New and functional options below.
type Options struct {
	MaxHeapBytes uint64
	Provider     heap.Provider
	Logger       *slog.Logger
}

// Option mutates Options during New.
type Option func(*Options)

// WithLogger redirects the core's structured logging. The default is
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithProvider supplies a pre-built heap provider, e.g. heap.NewFake for
// hermetic tests. The default is a reserve-up-front MmapProvider.
func WithProvider(p heap.Provider) Option {
	return func(o *Options) { o.Provider = p }
}

// WithMaxHeapBytes caps the managed region. The default is
// pageid.MaxHeapBytes (512 MiB).
func WithMaxHeapBytes(n uint64) Option {
	return func(o *Options) { o.MaxHeapBytes = n }
}

// Core is the whole allocator, guarded by a single mutex: the simplest
// correct design, matching a single allocator-wide lock rather than
// sharding it per size class. Lock order when a tcache.Cache flushes is
// cache before core: the cache itself is unsynchronized and owned by one
// caller, so there is nothing to order against until FlushCache takes Core's
// lock.
type Core struct {
	mu sync.Mutex

	provider heap.Provider
	meta     *metadata.Manager
	smap     *slabmap.Map
	sm       *slabmanager.Manager
	small    *smallalloc.Allocator
	large    *largealloc.Allocator

	Stats *stats.Counters
	log   *slog.Logger
}

// New builds a Core. If no provider is supplied, it tries an mmap-backed
// provider and falls back to an in-memory one on platforms or
// environments where mmap is unavailable.
func New(opts ...Option) *Core {
	o := Options{MaxHeapBytes: pageid.MaxHeapBytes}
	for _, fn := range opts {
		fn(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Provider == nil {
		p, err := heap.NewMmap(o.MaxHeapBytes)
		if err != nil {
			o.Logger.Warn("falling back to in-memory heap provider", "error", err)
			o.Provider = heap.NewFake(o.MaxHeapBytes)
		} else {
			o.Provider = p
		}
	}

	counters := stats.New()
	meta := metadata.New(o.Provider)
	smap := slabmap.New(meta)
	sm := slabmanager.New(o.Provider, meta, smap, o.Logger, counters)

	return &Core{
		provider: o.Provider,
		meta:     meta,
		smap:     smap,
		sm:       sm,
		small:    smallalloc.New(sm),
		large:    largealloc.New(o.Provider, sm),
		Stats:    counters,
		log:      o.Logger,
	}
}

// Close releases the underlying heap provider. The Core must not be used
// afterward.
func (c *Core) Close() {
	c.provider.Release()
}

// CounterSnapshot returns the Core's live counters, for the metrics
// package to wrap in a prometheus.Collector without internal/core
// importing prometheus itself.
func (c *Core) CounterSnapshot() *stats.Counters {
	return c.Stats
}

func (c *Core) ptrAt(off uint32) unsafe.Pointer {
	mem := c.provider.Bytes()
	return unsafe.Pointer(&mem[off])
}

func (c *Core) offsetOf(ptr unsafe.Pointer) (uint32, bool) {
	mem := c.provider.Bytes()
	if len(mem) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&mem[0]))
	p := uintptr(ptr)
	if p < base || p >= base+uintptr(len(mem)) {
		return 0, false
	}
	return uint32(p - base), true
}

// Malloc allocates size bytes, or returns nil on size 0 or OOM.
func (c *Core) Malloc(size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mallocLocked(uint64(size))
}

func (c *Core) mallocLocked(size uint64) unsafe.Pointer {
	if class, ok := smallalloc.ClassOf(size); ok {
		m, off := c.small.AllocSmall(class)
		if m == nil {
			c.log.Debug("oom", "size", size, "path", "small")
			return nil
		}
		c.Stats.RecordSmallAlloc(class, uint64(smallalloc.SliceSize(class)))
		return c.ptrAt(uint32(m.Start.Offset()) + off)
	}
	_, off, ok := c.large.AllocLarge(size)
	if !ok {
		c.log.Debug("oom", "size", size, "path", "large")
		return nil
	}
	c.Stats.RecordLargeAlloc(size)
	return c.ptrAt(off)
}

// Calloc allocates nmemb*size bytes, zeroed.
func (c *Core) Calloc(nmemb, size int) unsafe.Pointer {
	if nmemb <= 0 || size <= 0 {
		return nil
	}
	total := uint64(nmemb) * uint64(size)
	c.mu.Lock()
	ptr := c.mallocLocked(total)
	c.mu.Unlock()
	if ptr == nil {
		return nil
	}
	mem := unsafe.Slice((*byte)(ptr), total)
	for i := range mem {
		mem[i] = 0
	}
	return ptr
}

// lookup resolves a pointer handed out by this Core back to its owning
// slab and the size class it belongs to (for Small slabs).
func (c *Core) lookup(ptr unsafe.Pointer) (*slab.Meta, uint32, bool) {
	off, ok := c.offsetOf(ptr)
	if !ok {
		ckerr.Assertf(false, "pointer %p not within heap region", ptr)
		return nil, 0, false
	}
	pid := pageid.FromOffset(uintptr(off))
	m := c.smap.FindSlab(pid)
	if m == nil {
		ckerr.Assertf(false, "pointer %p has no owning slab", ptr)
		return nil, 0, false
	}
	return m, off, true
}

// Free releases ptr. A nil ptr is a no-op.
func (c *Core) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeLocked(ptr)
}

func (c *Core) freeLocked(ptr unsafe.Pointer) {
	m, off, ok := c.lookup(ptr)
	if !ok {
		return
	}
	switch m.Type {
	case slab.Small:
		sliceOff := off - uint32(m.Start.Offset())
		size := uint64(smallalloc.SliceSize(m.SizeClass))
		c.small.FreeSmall(m, sliceOff)
		c.Stats.RecordSmallFree(m.SizeClass, size)
	case slab.Blocked, slab.SingleAlloc:
		c.freeLargeLocked(m, off)
	default:
		ckerr.Assertf(false, "free of pointer in slab with unexpected type %v", m.Type)
	}
}

func (c *Core) freeLargeLocked(m *slab.Meta, off uint32) {
	size := largealloc.UsableSize(c.provider, m, off)
	c.large.FreeLarge(m, off)
	c.Stats.RecordLargeFree(size)
}

// MallocCached is the tcache-aware entry point: small-class requests are
// served from tc's LIFO stack without taking the core lock at all, falling
// through to the locked path only on a cache miss or for large requests.
func (c *Core) MallocCached(tc *tcache.Cache, size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}
	if class, ok := smallalloc.ClassOf(uint64(size)); ok {
		if owner, off, ok := tc.Pop(class); ok {
			return c.ptrAt(uint32(owner.Start.Offset()) + off)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mallocLocked(uint64(size))
}

// FreeCached is the tcache-aware counterpart of Free: a small slice goes
// back into tc instead of the small allocator directly, and only touches
// the core lock once, to resolve the owning slab. Non-small pointers fall
// back to the ordinary locked free path. Crossing FlushThreshold drains
// tc back to the small allocator under the core lock.
func (c *Core) FreeCached(tc *tcache.Cache, ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	c.mu.Lock()
	m, off, ok := c.lookup(ptr)
	if !ok {
		c.mu.Unlock()
		return
	}
	if m.Type != slab.Small {
		c.freeLargeLocked(m, off)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sliceOff := off - uint32(m.Start.Offset())
	if tc.Push(m.SizeClass, m, sliceOff) {
		c.FlushCache(tc)
	}
}

// FreeSized is a hinted free: when size pins the size class or slab type,
// it can skip parts of the slab-map lookup a plain Free would need. This
// implementation still resolves the owning slab (the lookup is already
// O(1)), so the hint only documents caller intent.
func (c *Core) FreeSized(ptr unsafe.Pointer, size int) {
	c.Free(ptr)
}

// FreeAlignedSized is the aligned_alloc counterpart of FreeSized.
func (c *Core) FreeAlignedSized(ptr unsafe.Pointer, alignment, size int) {
	c.Free(ptr)
}

// AlignedAlloc returns size bytes aligned to alignment, which must be a
// power of two. Where a plain Malloc result already meets the alignment
// (any alignment up to 8, and 16 for sizes served by a small slice of 16
// bytes or more) this is just Malloc. A Blocked allocation's pointer sits
// 8 bytes past a 16-byte boundary, so every other alignment up to the page
// size is served from the large allocator's SingleAlloc path, which is
// always page-aligned.
func (c *Core) AlignedAlloc(alignment, size int) unsafe.Pointer {
	if size <= 0 || alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil
	}
	if alignment <= 8 || (alignment == 16 && size > 8 && size <= smallalloc.MaxSize) {
		return c.Malloc(size)
	}
	if uint64(alignment) <= pageid.Size {
		// Smaller than a page: only a SingleAlloc's page-aligned base
		// satisfies arbitrary alignments up to the page size reliably.
		c.mu.Lock()
		defer c.mu.Unlock()
		_, off, ok := c.large.AllocPageAligned(uint64(size))
		if !ok {
			return nil
		}
		c.Stats.RecordLargeAlloc(uint64(size))
		return c.ptrAt(off)
	}
	// Alignment coarser than a page: over-allocate a SingleAlloc region
	// that's guaranteed to contain an aligned sub-range of the requested
	// size is out of scope for the page-granular slab manager; callers
	// needing multi-page alignment should size their own region.
	return nil
}

// Realloc resizes the allocation at ptr to size bytes, per the standard
// realloc contract: nil ptr behaves as Malloc, size 0 behaves as Free.
func (c *Core) Realloc(ptr unsafe.Pointer, size int) unsafe.Pointer {
	if ptr == nil {
		return c.Malloc(size)
	}
	if size <= 0 {
		c.Free(ptr)
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m, off, ok := c.lookup(ptr)
	if !ok {
		return nil
	}
	newSize := uint64(size)

	switch m.Type {
	case slab.Small:
		if smallalloc.ReallocSmall(m, newSize) {
			return ptr
		}
		return c.reallocCrossSmall(m, off, newSize)
	case slab.Blocked, slab.SingleAlloc:
		oldSize := largealloc.UsableSize(c.provider, m, off)
		if newClass, ok := smallalloc.ClassOf(newSize); ok {
			return c.reallocLargeToSmall(m, off, newClass, oldSize)
		}
		if newOff, ok := c.large.ResizeLarge(m, off, newSize); ok {
			return c.ptrAt(newOff)
		}
		return c.reallocFreshLarge(m, off, oldSize, newSize)
	default:
		ckerr.Assertf(false, "realloc of pointer in slab with unexpected type %v", m.Type)
		return nil
	}
}

func (c *Core) reallocCrossSmall(m *slab.Meta, off uint32, newSize uint64) unsafe.Pointer {
	sliceOff := off - uint32(m.Start.Offset())
	oldSize := uint64(smallalloc.SliceSize(m.SizeClass))
	newPtr := c.mallocLocked(newSize)
	if newPtr == nil {
		return nil
	}
	oldPtr := c.ptrAt(off)
	copyBytes(newPtr, oldPtr, minU64(oldSize, newSize))
	c.small.FreeSmall(m, sliceOff)
	c.Stats.RecordSmallFree(m.SizeClass, oldSize)
	return newPtr
}

func (c *Core) reallocLargeToSmall(m *slab.Meta, off uint32, newClass uint8, oldSize uint64) unsafe.Pointer {
	sm2, sliceOff := c.small.AllocSmall(newClass)
	if sm2 == nil {
		return nil
	}
	newPtr := c.ptrAt(uint32(sm2.Start.Offset()) + sliceOff)
	oldPtr := c.ptrAt(off)
	copyBytes(newPtr, oldPtr, minU64(oldSize, uint64(smallalloc.SliceSize(newClass))))
	c.Stats.RecordSmallAlloc(newClass, uint64(smallalloc.SliceSize(newClass)))
	c.large.FreeLarge(m, off)
	c.Stats.RecordLargeFree(oldSize)
	return newPtr
}

func (c *Core) reallocFreshLarge(m *slab.Meta, off uint32, oldSize, newSize uint64) unsafe.Pointer {
	_, newOff, ok := c.large.AllocLarge(newSize)
	if !ok {
		return nil
	}
	newPtr := c.ptrAt(newOff)
	oldPtr := c.ptrAt(off)
	copyBytes(newPtr, oldPtr, minU64(oldSize, newSize))
	c.Stats.RecordLargeAlloc(newSize)
	c.large.FreeLarge(m, off)
	c.Stats.RecordLargeFree(oldSize)
	return newPtr
}

// UsableSize reports the rounded-up allocation size backing ptr.
func (c *Core) UsableSize(ptr unsafe.Pointer) int {
	if ptr == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, off, ok := c.lookup(ptr)
	if !ok {
		return 0
	}
	if m.Type == slab.Small {
		return int(smallalloc.SliceSize(m.SizeClass))
	}
	return int(largealloc.UsableSize(c.provider, m, off))
}

// DebugDump walks every slab via the slab map and prints its type,
// page range, and allocated-bytes counter. A debugging aid (exercised by
// the core tests), not part of the allocation fast path.
func (c *Core) DebugDump(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := pageid.ID(c.provider.Committed() / pageid.Size)
	for p := pageid.ID(0); p < last; {
		m := c.smap.FindSlab(p)
		if m == nil {
			p++
			continue
		}
		fmt.Fprintf(w, "slab type=%s start=%d pages=%d allocatedBytes=%d\n",
			m.Type, uint32(m.Start), m.NPages, m.AllocatedBytes)
		p = m.End()
	}
}

// FlushCache returns every slice cached in tc back to the small
// allocator, under the core lock.
func (c *Core) FlushCache(tc *tcache.Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc.Drain(func(class uint8, owner *slab.Meta, off uint32) {
		c.small.FreeSmall(owner, off)
		c.Stats.RecordSmallFree(class, uint64(smallalloc.SliceSize(class)))
	})
}

func copyBytes(dst, src unsafe.Pointer, n uint64) {
	if n == 0 {
		return
	}
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Package slabmanager owns the page-run universe: it hands out contiguous
// page runs as slabs, coalesces adjacent free runs, and is the only
// component that talks to the system heap provider for user-data pages.
package slabmanager

import (
	"log/slog"

	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/metadata"
	"github.com/nmxmxh/ckgo/internal/pageid"
	"github.com/nmxmxh/ckgo/internal/rbtree"
	"github.com/nmxmxh/ckgo/internal/slab"
	"github.com/nmxmxh/ckgo/internal/slabmap"
	"github.com/nmxmxh/ckgo/internal/stats"
)

func lessByPagesThenAddr(a, b *slab.Meta) bool {
	if a.NPages != b.NPages {
		return a.NPages < b.NPages
	}
	return a.Start < b.Start
}

// Manager allocates, frees and resizes page runs.
type Manager struct {
	provider heap.Provider
	meta     *metadata.Manager
	smap     *slabmap.Map
	log      *slog.Logger
	stats    *stats.Counters

	// Single-page free slabs: LIFO, most-recently-freed first.
	singlePageFree *slab.Meta

	// Multi-page free slabs: best-fit red-black tree keyed by page count.
	freeTree *rbtree.Tree[*slab.Meta]
	freeMin  *slab.Meta
}

// New creates a slab manager over provider, sharing meta for slab.Meta
// records and smap for ownership lookups. A nil logger falls back to
// slog.Default(); a nil counters disables live-slab gauge tracking.
func New(provider heap.Provider, meta *metadata.Manager, smap *slabmap.Map, log *slog.Logger, counters *stats.Counters) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		provider: provider,
		meta:     meta,
		smap:     smap,
		log:      log,
		stats:    counters,
		freeTree: rbtree.New(lessByPagesThenAddr),
	}
}

func (mgr *Manager) bumpLive(typ slab.Type, delta int64) {
	if mgr.stats == nil {
		return
	}
	switch typ {
	case slab.Small:
		mgr.stats.LiveSmallSlabs.Add(delta)
	case slab.Blocked:
		mgr.stats.LiveBlockedSlabs.Add(delta)
	case slab.SingleAlloc:
		mgr.stats.LiveSingleSlabs.Add(delta)
	}
}

// SlabMap returns the slab map this manager keeps in sync.
func (mgr *Manager) SlabMap() *slabmap.Map { return mgr.smap }

// PageBytes returns the raw bytes backing a page range.
func (mgr *Manager) PageBytes(start pageid.ID, nPages uint32) []byte {
	return heap.RangeAt(mgr.provider, start, nPages)
}

// Alloc allocates a run of nPages pages, creates a metadata record of the
// given initial type and initializes it via init, inserts the range into
// the slab map, and returns the owning Meta. Returns nil on OOM.
func (mgr *Manager) Alloc(nPages uint32, typ slab.Type, init func(m *slab.Meta)) *slab.Meta {
	if nPages == 0 {
		nPages = 1
	}

	m := mgr.takeFree(nPages)
	if m == nil {
		m = mgr.extend(nPages)
		if m == nil {
			return nil
		}
	}

	if !mgr.smap.AllocatePath(m.Start, m.End()) {
		// Roll back: return the run to the free structures untouched.
		mgr.insertFree(m)
		return nil
	}

	m.Type = typ
	if init != nil {
		init(m)
	}
	sizeClass := uint8(0)
	if typ == slab.Small {
		sizeClass = m.SizeClass
	}
	mgr.smap.InsertRange(m.Start, m.End(), m, sizeClass)
	mgr.bumpLive(typ, 1)
	return m
}

// takeFree satisfies an nPages request from the free structures, splitting
// a larger run if needed. The remainder (if any) is reinserted as free.
func (mgr *Manager) takeFree(nPages uint32) *slab.Meta {
	if nPages == 1 && mgr.singlePageFree != nil {
		m := mgr.singlePageFree
		mgr.singlePageFree = m.Next
		m.Next = nil
		m.Type = slab.Unmapped
		return m
	}

	node := mgr.freeTree.CeilingFunc(func(v *slab.Meta) bool {
		return v.NPages >= nPages
	})
	if node == nil {
		return nil
	}
	found := node.Value
	mgr.freeTree.Remove(&found.TreeNode)
	mgr.refreshMin()

	if found.NPages == nPages {
		found.Type = slab.Unmapped
		return found
	}

	// Split: carve the tail [found.Start+nPages, found.End()) back out as
	// a new free run, shrink found to exactly nPages. found's old mapping
	// covers the whole pre-split range, so it must be dropped before the
	// remainder claims its half; otherwise the remainder is invisible to
	// FindSlab and cannot be coalesced on a later Free.
	mgr.smap.DeallocatePath(found.Start, found.End())

	remainder := mgr.meta.NewSlabMeta()
	remainder.Type = slab.Free
	remainder.Start = found.Start.Add(nPages)
	remainder.NPages = found.NPages - nPages
	mgr.insertFree(remainder)
	if mgr.smap.AllocatePath(remainder.Start, remainder.End()) {
		mgr.smap.InsertRange(remainder.Start, remainder.End(), remainder, 0)
	}

	found.NPages = nPages
	found.Type = slab.Unmapped
	return found
}

// extend grows the managed heap via the provider to satisfy an nPages
// request that the free structures could not.
func (mgr *Manager) extend(nPages uint32) *slab.Meta {
	oldEnd, ok := mgr.provider.Extend(uint64(nPages) * pageid.Size)
	if !ok {
		mgr.log.Debug("heap extend failed", "requestedPages", nPages)
		return nil
	}
	mgr.log.Debug("heap extended", "pages", nPages, "committedBytes", oldEnd+uint64(nPages)*pageid.Size)
	m := mgr.meta.NewSlabMeta()
	m.Start = pageid.FromOffset(uintptr(oldEnd))
	m.NPages = nPages
	return m
}

// insertFree places a Free-typed Meta into the appropriate free structure.
func (mgr *Manager) insertFree(m *slab.Meta) {
	m.Type = slab.Free
	if m.NPages == 1 {
		m.Next = mgr.singlePageFree
		mgr.singlePageFree = m
		return
	}
	m.TreeNode.Value = m
	mgr.freeTree.Insert(&m.TreeNode)
	mgr.refreshMin()
}

func (mgr *Manager) refreshMin() {
	if n := mgr.freeTree.Min(); n != nil {
		mgr.freeMin = n.Value
	} else {
		mgr.freeMin = nil
	}
}

// removeFree unlinks m from whichever free structure currently holds it.
func (mgr *Manager) removeFree(m *slab.Meta) {
	if m.NPages == 1 {
		mgr.removeFromSingleList(m)
		return
	}
	mgr.freeTree.Remove(&m.TreeNode)
	mgr.refreshMin()
}

func (mgr *Manager) removeFromSingleList(m *slab.Meta) {
	if mgr.singlePageFree == m {
		mgr.singlePageFree = m.Next
		m.Next = nil
		return
	}
	for cur := mgr.singlePageFree; cur != nil; cur = cur.Next {
		if cur.Next == m {
			cur.Next = m.Next
			m.Next = nil
			return
		}
	}
}

// Free returns a slab to the manager, coalescing with adjacent free slabs
// and releasing the merged metadata record's surplus siblings back to the
// metadata manager's reuse freelist.
func (mgr *Manager) Free(m *slab.Meta) {
	mgr.bumpLive(m.Type, -1)
	start, end := m.Start, m.End()
	mgr.smap.DeallocatePath(start, end)

	// Look for a free predecessor.
	if start > pageid.ID(0) {
		if prev := mgr.smap.FindSlab(start - 1); prev != nil && prev.Type == slab.Free {
			mgr.smap.DeallocatePath(prev.Start, prev.End())
			mgr.removeFree(prev)
			start = prev.Start
			mgr.meta.FreeSlabMeta(prev)
		}
	}
	// Look for a free successor.
	if succ := mgr.smap.FindSlab(end); succ != nil && succ.Type == slab.Free {
		mgr.smap.DeallocatePath(succ.Start, succ.End())
		mgr.removeFree(succ)
		end = succ.End()
		mgr.meta.FreeSlabMeta(succ)
	}

	m.Start = start
	m.NPages = uint32(end.Delta(start))
	mgr.log.Debug("slab released", "type", m.Type, "startPage", uint32(m.Start), "pages", m.NPages)
	mgr.insertFree(m)
	if mgr.smap.AllocatePath(m.Start, m.End()) {
		mgr.smap.InsertRange(m.Start, m.End(), m, 0)
	}
}

// Resize attempts to grow or shrink m in place to newNPages pages. On
// success m's NPages is updated and true is returned; on failure m is left
// unmodified and false is returned.
func (mgr *Manager) Resize(m *slab.Meta, newNPages uint32) bool {
	if newNPages == m.NPages {
		return true
	}
	if newNPages < m.NPages {
		return mgr.shrink(m, newNPages)
	}
	return mgr.grow(m, newNPages)
}

func (mgr *Manager) shrink(m *slab.Meta, newNPages uint32) bool {
	tailStart := m.Start.Add(newNPages)
	tailPages := m.NPages - newNPages
	mgr.smap.DeallocatePath(tailStart, m.End())
	m.NPages = newNPages

	tail := mgr.meta.NewSlabMeta()
	tail.Start = tailStart
	tail.NPages = tailPages
	mgr.Free(tail)
	return true
}

func (mgr *Manager) grow(m *slab.Meta, newNPages uint32) bool {
	need := newNPages - m.NPages
	next := mgr.smap.FindSlab(m.End())
	if next == nil || next.Type != slab.Free || next.NPages < need {
		return false
	}
	mgr.smap.DeallocatePath(next.Start, next.End())
	mgr.removeFree(next)

	if next.NPages > need {
		remainder := mgr.meta.NewSlabMeta()
		remainder.Type = slab.Free
		remainder.Start = next.Start.Add(need)
		remainder.NPages = next.NPages - need
		mgr.insertFree(remainder)
		if mgr.smap.AllocatePath(remainder.Start, remainder.End()) {
			mgr.smap.InsertRange(remainder.Start, remainder.End(), remainder, 0)
		}
	}
	mgr.meta.FreeSlabMeta(next)

	oldEnd := m.End()
	m.NPages = newNPages
	if mgr.smap.AllocatePath(oldEnd, m.End()) {
		sizeClass := uint8(0)
		if m.Type == slab.Small {
			sizeClass = m.SizeClass
		}
		mgr.smap.InsertRange(oldEnd, m.End(), m, sizeClass)
	}
	return true
}

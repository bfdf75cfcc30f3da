// Package largealloc implements the two sub-paths for requests above the
// small allocator's 128-byte ceiling: Blocked slabs, which carve
// boundary-tagged blocks out of a process-wide freelist, and SingleAlloc
// slabs, where the entire page run is one allocation, for requests at or
// above the large threshold.
package largealloc

import (
	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/freelist"
	"github.com/nmxmxh/ckgo/internal/pageid"
	"github.com/nmxmxh/ckgo/internal/slab"
	"github.com/nmxmxh/ckgo/internal/slabmanager"
)

// SingleAllocThreshold is the user size at or above which a request
// bypasses the Blocked-slab path entirely and gets its own page run.
const SingleAllocThreshold = freelist.LargeThreshold

// Allocator owns the process-wide block freelist and mediates between it
// and the slab manager for both large sub-paths.
type Allocator struct {
	provider heap.Provider
	sm       *slabmanager.Manager
	fl       *freelist.Freelist
}

// New creates a large allocator over provider and sm, with its own fresh
// block freelist.
func New(provider heap.Provider, sm *slabmanager.Manager) *Allocator {
	return &Allocator{provider: provider, sm: sm, fl: freelist.New()}
}

// AllocLarge services a request above the small allocator's ceiling,
// returning the owning slab and the byte offset (from the heap base) of
// the user's data, or (nil, 0, false) on OOM.
func (a *Allocator) AllocLarge(userSize uint64) (*slab.Meta, uint32, bool) {
	if userSize >= SingleAllocThreshold {
		return a.allocSingle(userSize)
	}
	return a.allocBlocked(userSize)
}

// AllocPageAligned forces the SingleAlloc path regardless of userSize,
// for callers (aligned_alloc with alignment <= page size) that need a
// page-aligned base rather than whatever the size-based routing in
// AllocLarge would pick.
func (a *Allocator) AllocPageAligned(userSize uint64) (*slab.Meta, uint32, bool) {
	return a.allocSingle(userSize)
}

func (a *Allocator) allocSingle(userSize uint64) (*slab.Meta, uint32, bool) {
	nPages := pagesFor(userSize)
	m := a.sm.Alloc(nPages, slab.SingleAlloc, func(m *slab.Meta) {
		m.AllocatedBytes = uint64(nPages) * pageid.Size
	})
	if m == nil {
		return nil, 0, false
	}
	return m, uint32(m.Start.Offset()), true
}

func (a *Allocator) allocBlocked(userSize uint64) (*slab.Meta, uint32, bool) {
	required := freelist.RequiredBlockSize(userSize)

	off, ok := a.fl.FindFree(a.provider.Bytes(), userSize)
	if !ok {
		m, blkOff, blkSize, ok := a.newBlockedSlab(required)
		if !ok {
			return nil, 0, false
		}
		a.fl.AdoptFree(a.provider.Bytes(), blkOff, blkSize)
		_ = m
		off = blkOff
	}

	mem := a.provider.Bytes()
	allocOff := a.fl.Split(mem, off, required)
	owner := a.sm.SlabMap().FindSlab(pageid.FromOffset(uintptr(allocOff)))
	owner.AllocatedBytes += freelist.BlockSize(mem, allocOff)
	return owner, allocOff + freelist.HeaderSize, true
}

// newBlockedSlab allocates a fresh page run sized to hold at least
// required bytes plus the trailing phony end header, and lays it out as
// one free block.
func (a *Allocator) newBlockedSlab(required uint64) (*slab.Meta, uint32, uint64, bool) {
	regionNeed := required + freelist.HeaderSize
	nPages := uint32((regionNeed + pageid.Size - 1) / pageid.Size)

	var m *slab.Meta
	m = a.sm.Alloc(nPages, slab.Blocked, nil)
	if m == nil {
		return nil, 0, 0, false
	}
	startOff := uint32(m.Start.Offset())
	regionSize := uint64(nPages) * pageid.Size
	blkOff, blkSize := freelist.InitSlabFree(a.provider.Bytes(), startOff, regionSize)
	return m, blkOff, blkSize, true
}

// FreeLarge releases a previously allocated large region. userOff is the
// offset returned by AllocLarge.
func (a *Allocator) FreeLarge(owner *slab.Meta, userOff uint32) {
	if owner.Type == slab.SingleAlloc {
		a.sm.Free(owner)
		return
	}
	a.freeBlocked(owner, userOff)
}

func (a *Allocator) freeBlocked(owner *slab.Meta, userOff uint32) {
	mem := a.provider.Bytes()
	blockOff := userOff - freelist.HeaderSize
	size := freelist.BlockSize(mem, blockOff)
	owner.AllocatedBytes -= size

	merged := a.fl.MarkFree(mem, blockOff)

	if owner.AllocatedBytes != 0 {
		return
	}
	// Canonical release rule: release the slab only once its allocated
	// byte counter is zero and the sole remaining block spans the whole
	// slab minus the phony-end header.
	fullSize := uint64(owner.NPages)*pageid.Size - freelist.HeaderSize
	if merged != uint32(owner.Start.Offset()) || freelist.BlockSize(mem, merged) != fullSize {
		return
	}
	a.fl.Reclaim(mem, merged, fullSize)
	a.sm.Free(owner)
}

// ResizeLarge attempts an in-place resize (SingleAlloc via the slab
// manager, Blocked via the freelist). Returns the possibly-unchanged user
// offset and whether the resize succeeded in place; callers fall back to
// alloc+copy+free on failure.
func (a *Allocator) ResizeLarge(owner *slab.Meta, userOff uint32, newSize uint64) (uint32, bool) {
	if owner.Type == slab.SingleAlloc {
		newNPages := pagesFor(newSize)
		if !a.sm.Resize(owner, newNPages) {
			return 0, false
		}
		owner.AllocatedBytes = uint64(newNPages) * pageid.Size
		return uint32(owner.Start.Offset()), true
	}

	mem := a.provider.Bytes()
	blockOff := userOff - freelist.HeaderSize
	oldBlockSize := freelist.BlockSize(mem, blockOff)
	newBlockSize := freelist.RequiredBlockSize(newSize)
	if !a.fl.ResizeInPlace(mem, blockOff, newBlockSize) {
		return 0, false
	}
	actual := freelist.BlockSize(mem, blockOff)
	if actual >= oldBlockSize {
		owner.AllocatedBytes += actual - oldBlockSize
	} else {
		owner.AllocatedBytes -= oldBlockSize - actual
	}
	return blockOff + freelist.HeaderSize, true
}

// UsableSize returns the usable payload size for a large allocation.
func UsableSize(provider heap.Provider, owner *slab.Meta, userOff uint32) uint64 {
	if owner.Type == slab.SingleAlloc {
		return uint64(owner.NPages) * pageid.Size
	}
	mem := provider.Bytes()
	blockOff := userOff - freelist.HeaderSize
	return freelist.UserCapacity(freelist.BlockSize(mem, blockOff))
}

func pagesFor(size uint64) uint32 {
	n := (size + pageid.Size - 1) / pageid.Size
	if n == 0 {
		n = 1
	}
	return uint32(n)
}

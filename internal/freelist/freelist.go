package freelist

// Freelist is the process-wide boundary-tagged free block index for
// Blocked slabs: a bin array for sizes up to LargeThreshold, backed by a
// bitset for O(1) smallest-fit lookup, and a red-black tree above that.
// All state lives either here (bin heads, tree root) or in-band inside
// the free blocks themselves; no block ever needs a separate Go object.
type Freelist struct {
	bins *binSet
	tree *largeTree
}

// New creates an empty Freelist.
func New() *Freelist {
	return &Freelist{
		bins: newBinSet(),
		tree: newLargeTree(),
	}
}

// AdoptFree indexes a brand-new free block that has not gone through
// Split/MarkFree before, for when a fresh Blocked slab's initial free
// region (from InitSlabFree) joins the process-wide index for the first
// time.
func (f *Freelist) AdoptFree(mem []byte, off uint32, size uint64) {
	f.insert(mem, off, size)
}

// Reclaim removes a free block from the index without touching its header,
// used when the block's entire owning slab is about to be handed back to
// the slab manager.
func (f *Freelist) Reclaim(mem []byte, off uint32, size uint64) {
	f.remove(mem, off, size)
}

func (f *Freelist) insert(mem []byte, off uint32, size uint64) {
	if size <= LargeThreshold {
		f.bins.push(mem, off, size)
	} else {
		f.tree.Insert(mem, off)
	}
}

func (f *Freelist) remove(mem []byte, off uint32, size uint64) {
	if size <= LargeThreshold {
		f.bins.remove(mem, off, size)
	} else {
		f.tree.Remove(mem, off)
	}
}

// FindFree locates a free block able to hold userSize bytes, using a
// smallest-fit-from-bin strategy under LargeThreshold and a best-fit tree
// lookup above it. It does not remove the block or split it; callers call
// Split/MarkAllocated afterward. Returns (0, false) if none is large
// enough.
func (f *Freelist) FindFree(mem []byte, userSize uint64) (uint32, bool) {
	need := requiredBlockSize(userSize)
	if need <= LargeThreshold {
		if off, ok := f.bins.findFrom(binIndex(need)); ok {
			return off, true
		}
		// Small bins exhausted; the smallest tree entry may still fit.
		return f.tree.CeilingSize(mem, need)
	}
	return f.tree.CeilingSize(mem, need)
}

// Split carves a block of exactly requiredSize bytes out of the free
// block at off (which must be at least that large), removing off from
// its current index. If a remainder of at least MinBlockSize bytes is
// left over, it is reinserted as a new free block; otherwise the whole
// block is handed out. Returns the offset of the allocated block (== off)
// and leaves it marked allocated with footer/PrevFree bookkeeping intact.
func (f *Freelist) Split(mem []byte, off uint32, requiredSize uint64) uint32 {
	total := BlockSize(mem, off)
	f.remove(mem, off, total)

	remainder := total - requiredSize
	prevFree := PrevFree(mem, off)

	if remainder < MinBlockSize {
		InitHeader(mem, off, total, false, prevFree)
		f.clearNextPrevFree(mem, off)
		return off
	}

	InitHeader(mem, off, requiredSize, false, prevFree)
	f.clearNextPrevFree(mem, off)

	tailOff := off + uint32(requiredSize)
	InitHeader(mem, tailOff, remainder, true, false)
	WriteFooter(mem, tailOff, remainder)
	f.insert(mem, tailOff, remainder)
	return off
}

// clearNextPrevFree updates the block immediately following off to record
// that off is no longer free.
func (f *Freelist) clearNextPrevFree(mem []byte, off uint32) {
	next := NextAdjacent(mem, off)
	if int(next)+headerSize <= len(mem) {
		setPrevFree(mem, next, false)
	}
}

// MarkFree returns the allocated block at off to the freelist, coalescing
// with an adjacent free predecessor and/or successor first. Returns the
// offset of the (possibly merged) free block.
func (f *Freelist) MarkFree(mem []byte, off uint32) uint32 {
	size := BlockSize(mem, off)
	prevFree := PrevFree(mem, off)

	if prevFree {
		prevOff := PrevAdjacent(mem, off)
		prevSize := BlockSize(mem, prevOff)
		f.remove(mem, prevOff, prevSize)
		off = prevOff
		size += prevSize
	}

	next := off + uint32(size)
	if int(next)+headerSize <= len(mem) && IsFree(mem, next) {
		nextSize := BlockSize(mem, next)
		f.remove(mem, next, nextSize)
		size += nextSize
	}

	wasPrevFree := PrevFree(mem, off)
	InitHeader(mem, off, size, true, wasPrevFree)
	WriteFooter(mem, off, size)
	f.insert(mem, off, size)

	after := off + uint32(size)
	if int(after)+headerSize <= len(mem) {
		setPrevFree(mem, after, true)
	}
	return off
}

// MarkAllocated is the counterpart used when a freshly carved block (from
// Split, or from a brand-new slab) needs its neighbor's PrevFree bit
// cleared without going through the free index at all.
func (f *Freelist) MarkAllocated(mem []byte, off uint32) {
	f.clearNextPrevFree(mem, off)
}

// ResizeInPlace attempts to grow the allocated block at off to
// newBlockSize by consuming a free successor, or to shrink it, releasing
// the tail as a new free block. Returns false if a grow cannot be
// satisfied in place.
func (f *Freelist) ResizeInPlace(mem []byte, off uint32, newBlockSize uint64) bool {
	cur := BlockSize(mem, off)
	if newBlockSize == cur {
		return true
	}
	if newBlockSize < cur {
		tailSize := cur - newBlockSize
		if tailSize < MinBlockSize {
			return true
		}
		prevFree := PrevFree(mem, off)
		InitHeader(mem, off, newBlockSize, false, prevFree)
		tailOff := off + uint32(newBlockSize)
		InitHeader(mem, tailOff, tailSize, true, false)
		WriteFooter(mem, tailOff, tailSize)
		f.insert(mem, tailOff, tailSize)
		next := tailOff + uint32(tailSize)
		if int(next)+headerSize <= len(mem) {
			setPrevFree(mem, next, true)
		}
		return true
	}

	next := off + uint32(cur)
	if int(next)+headerSize > len(mem) || !IsFree(mem, next) {
		return false
	}
	nextSize := BlockSize(mem, next)
	need := newBlockSize - cur
	if nextSize < need {
		return false
	}
	f.remove(mem, next, nextSize)

	prevFree := PrevFree(mem, off)
	if nextSize == need {
		InitHeader(mem, off, newBlockSize, false, prevFree)
		f.clearNextPrevFree(mem, off)
		return true
	}

	InitHeader(mem, off, newBlockSize, false, prevFree)
	tailOff := off + uint32(newBlockSize)
	tailSize := nextSize - need
	InitHeader(mem, tailOff, tailSize, true, false)
	WriteFooter(mem, tailOff, tailSize)
	f.insert(mem, tailOff, tailSize)
	after := tailOff + uint32(tailSize)
	if int(after)+headerSize <= len(mem) {
		setPrevFree(mem, after, true)
	}
	return true
}

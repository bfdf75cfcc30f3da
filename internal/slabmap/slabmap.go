// Package slabmap implements the three-level radix trie mapping a page
// index to its owning slab metadata and (for Small slabs) size class. It is
// consulted on every free and realloc to recover the owning slab from a
// bare user pointer.
package slabmap

import (
	"github.com/nmxmxh/ckgo/internal/metadata"
	"github.com/nmxmxh/ckgo/internal/pageid"
	"github.com/nmxmxh/ckgo/internal/slab"
)

const (
	level0Bits = 6
	level1Bits = 6
	level2Bits = 5

	level0Size = 1 << level0Bits
	level1Size = 1 << level1Bits
	level2Size = 1 << level2Bits
)

func split(id pageid.ID) (i0, i1, i2 int) {
	idx := uint32(id)
	i2 = int(idx & (level2Size - 1))
	idx >>= level2Bits
	i1 = int(idx & (level1Size - 1))
	idx >>= level1Bits
	i0 = int(idx & (level0Size - 1))
	return
}

type leafEntry struct {
	owner     *slab.Meta
	sizeClass uint8
	present   bool
}

// leaf is the level-2 radix node: a flat array of per-page owner entries.
type leaf struct {
	entries   [level2Size]leafEntry
	allocated int
	freeNext  *leaf // reuse freelist link when unlinked from the trie
}

// mid is the level-1 radix node: an array of leaf pointers.
type mid struct {
	children  [level1Size]*leaf
	allocated int
	freeNext  *mid
}

// Map is the PageId -> slab owner radix trie.
type Map struct {
	meta *metadata.Manager
	root [level0Size]*mid

	freeMids  *mid
	freeLeafs *leaf
}

// New creates an empty slab map backed by meta for new node allocation.
func New(meta *metadata.Manager) *Map {
	return &Map{meta: meta}
}

func (m *Map) allocMid() *mid {
	if m.freeMids != nil {
		n := m.freeMids
		m.freeMids = n.freeNext
		*n = mid{}
		return n
	}
	buf := m.meta.Alloc(int(sizeOfMid), 8)
	if buf == nil {
		return nil
	}
	return new(mid)
}

func (m *Map) allocLeaf() *leaf {
	if m.freeLeafs != nil {
		n := m.freeLeafs
		m.freeLeafs = n.freeNext
		*n = leaf{}
		return n
	}
	buf := m.meta.Alloc(int(sizeOfLeaf), 8)
	if buf == nil {
		return nil
	}
	return new(leaf)
}

// sizeOfMid/sizeOfLeaf are nominal sizes charged against the metadata
// manager's bump allocator to keep its accounting honest even though the
// Go runtime, not the bump pointer, owns the actual backing array for
// these nodes (see DESIGN.md: radix nodes are modeled as regular Go
// objects rather than a byte-level arena, since they are never addressed
// by user pointers).
const (
	sizeOfMid  = 8 * level1Size
	sizeOfLeaf = 4 * level2Size
)

// FindSlab returns the slab owning id, or nil if the path is unallocated.
func (m *Map) FindSlab(id pageid.ID) *slab.Meta {
	i0, i1, i2 := split(id)
	n1 := m.root[i0]
	if n1 == nil {
		return nil
	}
	lf := n1.children[i1]
	if lf == nil {
		return nil
	}
	e := &lf.entries[i2]
	if !e.present {
		return nil
	}
	return e.owner
}

// FindSizeClass returns the size class tag recorded for id. It is only
// meaningful when the owning slab is a Small slab.
func (m *Map) FindSizeClass(id pageid.ID) (uint8, bool) {
	i0, i1, i2 := split(id)
	n1 := m.root[i0]
	if n1 == nil {
		return 0, false
	}
	lf := n1.children[i1]
	if lf == nil {
		return 0, false
	}
	e := &lf.entries[i2]
	return e.sizeClass, e.present
}

// pathOp records a radix node created during an AllocatePath call, so a
// later failure in the same call can unwind exactly what it added.
type pathOp struct {
	i0, i1  int
	newMid  bool
	newLeaf bool
}

// AllocatePath ensures radix nodes exist for every page in [start, end).
// On OOM it rolls back any nodes it created for this call and returns
// false, leaving the map exactly as it was before the call.
func (m *Map) AllocatePath(start, end pageid.ID) bool {
	var ops []pathOp

	for idx := start; idx < end; idx++ {
		i0, i1, _ := split(idx)
		n1 := m.root[i0]
		madeMid := false
		if n1 == nil {
			n1 = m.allocMid()
			if n1 == nil {
				m.unwindAllocatePath(ops)
				return false
			}
			m.root[i0] = n1
			madeMid = true
		}
		madeLeaf := false
		if n1.children[i1] == nil {
			lf := m.allocLeaf()
			if lf == nil {
				if madeMid {
					m.root[i0] = nil
					m.freeMidPush(n1)
				}
				m.unwindAllocatePath(ops)
				return false
			}
			n1.children[i1] = lf
			n1.allocated++
			madeLeaf = true
		}
		if madeMid || madeLeaf {
			ops = append(ops, pathOp{i0, i1, madeMid, madeLeaf})
		}
	}
	return true
}

func (m *Map) unwindAllocatePath(ops []pathOp) {
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		n1 := m.root[op.i0]
		if op.newLeaf && n1 != nil {
			lf := n1.children[op.i1]
			n1.children[op.i1] = nil
			n1.allocated--
			if lf != nil {
				m.freeLeafPush(lf)
			}
		}
		if op.newMid {
			n := m.root[op.i0]
			m.root[op.i0] = nil
			if n != nil {
				m.freeMidPush(n)
			}
		}
	}
}

func (m *Map) freeMidPush(n *mid) {
	*n = mid{freeNext: m.freeMids}
	m.freeMids = n
}

func (m *Map) freeLeafPush(n *leaf) {
	*n = leaf{freeNext: m.freeLeafs}
	m.freeLeafs = n
}

// Insert records owner (and sizeClass, meaningful for Small slabs) for a
// single page. The path must already exist via AllocatePath.
func (m *Map) Insert(id pageid.ID, owner *slab.Meta, sizeClass uint8) {
	i0, i1, i2 := split(id)
	lf := m.root[i0].children[i1]
	e := &lf.entries[i2]
	if !e.present {
		lf.allocated++
	}
	e.owner = owner
	e.sizeClass = sizeClass
	e.present = true
}

// InsertRange is a bulk Insert over [start, end), used when a newly
// allocated slab's whole page range shares one owner/class.
func (m *Map) InsertRange(start, end pageid.ID, owner *slab.Meta, sizeClass uint8) {
	for id := start; id < end; id++ {
		m.Insert(id, owner, sizeClass)
	}
}

// DeallocatePath clears the mapping for every page in [start, end) and
// returns any internal nodes that become empty to the node freelists.
func (m *Map) DeallocatePath(start, end pageid.ID) {
	for id := start; id < end; id++ {
		i0, i1, i2 := split(id)
		n1 := m.root[i0]
		if n1 == nil {
			continue
		}
		lf := n1.children[i1]
		if lf == nil {
			continue
		}
		e := &lf.entries[i2]
		if !e.present {
			continue
		}
		*e = leafEntry{}
		lf.allocated--
		if lf.allocated == 0 {
			n1.children[i1] = nil
			m.freeLeafPush(lf)
			n1.allocated--
			if n1.allocated == 0 {
				m.root[i0] = nil
				m.freeMidPush(n1)
			}
		}
	}
}

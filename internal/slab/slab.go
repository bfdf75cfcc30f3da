// Package slab defines the out-of-band slab metadata record shared by every
// other core component. A Meta is never stored inside the pages it
// describes (the one exception, in-band block headers for Blocked slabs, is
// handled by the freelist package); it is always serviced by the metadata
// manager and threaded onto whichever intrusive structure its current Type
// belongs to.
package slab

import (
	"math"

	"github.com/nmxmxh/ckgo/internal/pageid"
	"github.com/nmxmxh/ckgo/internal/rbtree"
)

// Type discriminates the role a slab currently plays. The zero value,
// Unmapped, is the state a freshly allocated metadata record starts in.
type Type uint8

const (
	Unmapped Type = iota
	Free
	Small
	Blocked
	SingleAlloc
)

func (t Type) String() string {
	switch t {
	case Unmapped:
		return "unmapped"
	case Free:
		return "free"
	case Small:
		return "small"
	case Blocked:
		return "blocked"
	case SingleAlloc:
		return "single-alloc"
	default:
		return "invalid"
	}
}

// NoSlice is the sentinel value for "no free slice" in a Small slab's
// intrusive free-slice stack, and doubles as "no page" for the partial-slab
// list fields below (pageid.Nil has the same bit pattern).
const NoSlice = math.MaxUint32

// Meta is the metadata record for one slab. Exactly one field group below
// is meaningful at a time, selected by Type, much like a tagged union.
type Meta struct {
	Type   Type
	Start  pageid.ID
	NPages uint32

	// Unmapped: freelist-of-records link (metadata manager).
	// Free, single-page: LIFO freelist link (slab manager).
	Next *Meta
	Prev *Meta

	// Free, multi-page: this slab's node in the slab manager's red-black
	// tree of free runs, keyed by page count.
	TreeNode rbtree.Node[*Meta]

	// Small: size class index (0..8) and the head of the intrusive
	// free-slice stack, stored as a byte offset from Start's page. The
	// partial-slab list threading non-full Small slabs of this class
	// together is kept by PageId, so traversal always goes through the
	// slab map rather than a raw pointer.
	SizeClass    uint8
	FreeSlice    uint32
	PartialPrev  pageid.ID
	PartialNext  pageid.ID
	UsedSlices   uint32
	TotalSlices  uint32

	// Blocked: running total of bytes currently handed to the user from
	// blocks inside this slab; the slab is eligible for release back to
	// the slab manager only once this reaches zero (see the canonical
	// Blocked-slab release rule in DESIGN.md).
	AllocatedBytes uint64
}

// End returns the page one past the last page of this slab.
func (m *Meta) End() pageid.ID {
	return m.Start.Add(m.NPages)
}

// Reset clears a Meta back to its Unmapped zero state for reuse from the
// metadata manager's freelist.
func (m *Meta) Reset() {
	*m = Meta{Type: Unmapped}
}

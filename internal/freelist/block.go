// Package freelist implements the boundary-tagged block freelist that
// backs large (non-Small) allocations inside Blocked slabs. It is
// process-wide: free blocks from any Blocked slab are eligible for any
// request, indexed by size in a small-size bin array (with a bitset for
// O(1) first-fit-from-size) and a red-black tree for sizes above 8 KiB.
//
// Block headers and footers live in-band, inside the heap bytes the
// allocator itself manages, never as separate Go objects: allocating
// auxiliary metadata here would recurse into the allocator. The link
// fields used by the bin lists and the tree are likewise written
// directly into a free block's own payload, addressed by byte offset
// rather than Go pointer.
package freelist

import "encoding/binary"

const (
	// MinBlockSize is the smallest block the freelist will track
	// (header + footer + minimum payload for either a bin-list node or a
	// tree node).
	MinBlockSize = 32

	// LargeThreshold is the block size above which free blocks are
	// indexed in the red-black tree instead of a small-size bin.
	LargeThreshold = 8 * 1024

	headerSize = 8
	footerSize = 8

	// HeaderSize and FooterSize are exported for callers (the large
	// allocator) that need to convert between a block offset and the
	// user pointer it hands out.
	HeaderSize = headerSize
	FooterSize = footerSize

	binGranularity = 16

	freeBit     uint64 = 0x1
	prevFreeBit uint64 = 0x2
	sizeMask    uint64 = ^(freeBit | prevFreeBit)

	// NilOff is the sentinel "no block" offset for in-band link fields.
	NilOff uint32 = 0xFFFFFFFF
)

func readU64(mem []byte, off uint32) uint64 {
	return binary.LittleEndian.Uint64(mem[off : off+8])
}

func writeU64(mem []byte, off uint32, v uint64) {
	binary.LittleEndian.PutUint64(mem[off:off+8], v)
}

func readU32(mem []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(mem[off : off+4])
}

func writeU32(mem []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(mem[off:off+4], v)
}

// BlockSize returns the total size (header + payload [+ footer]) of the
// block at off.
func BlockSize(mem []byte, off uint32) uint64 {
	return readU64(mem, off) & sizeMask
}

// IsFree reports whether the block at off is currently free.
func IsFree(mem []byte, off uint32) bool {
	return readU64(mem, off)&freeBit != 0
}

// PrevFree reports whether the block immediately before off is free.
func PrevFree(mem []byte, off uint32) bool {
	return readU64(mem, off)&prevFreeBit != 0
}

func setPrevFree(mem []byte, off uint32, v bool) {
	h := readU64(mem, off)
	if v {
		h |= prevFreeBit
	} else {
		h &^= prevFreeBit
	}
	writeU64(mem, off, h)
}

// InitHeader writes a fresh header for a block of the given size, with the
// free/prev-free bits as specified. It does not touch any footer.
func InitHeader(mem []byte, off uint32, size uint64, isFree, prevFree bool) {
	h := size
	if isFree {
		h |= freeBit
	}
	if prevFree {
		h |= prevFreeBit
	}
	writeU64(mem, off, h)
}

// WriteFooter writes the trailing size duplicate for a free block, which
// lives in the last 8 bytes of the block.
func WriteFooter(mem []byte, off uint32, size uint64) {
	writeU64(mem, off+uint32(size)-footerSize, size)
}

// PrevSize reads the size of the block immediately before off from its
// footer. Only valid when PrevFree(mem, off) is true.
func PrevSize(mem []byte, off uint32) uint64 {
	return readU64(mem, off-footerSize)
}

// NextAdjacent returns the offset of the block immediately after off.
func NextAdjacent(mem []byte, off uint32) uint32 {
	return off + uint32(BlockSize(mem, off))
}

// PrevAdjacent returns the offset of the block immediately before off.
// Only valid when PrevFree(mem, off) is true (otherwise there is no
// reliable way to find the previous block's start).
func PrevAdjacent(mem []byte, off uint32) uint32 {
	return off - uint32(PrevSize(mem, off))
}

// WritePhonyEnd writes the zero-size, allocated phony header placed one
// past the last real block in a slab, so backward-coalescing probes always
// terminate without running past the slab.
func WritePhonyEnd(mem []byte, off uint32) {
	writeU64(mem, off, 0)
}

// InitSlabFree lays out a freshly allocated Blocked slab's region as a
// single free block, reserving room for the trailing phony end header.
// Returns the block's offset (== off) and size.
func InitSlabFree(mem []byte, off uint32, regionSize uint64) (uint32, uint64) {
	size := regionSize - headerSize
	InitHeader(mem, off, size, true, false)
	WriteFooter(mem, off, size)
	WritePhonyEnd(mem, off+uint32(size))
	return off, size
}

// requiredBlockSize computes the block size needed to satisfy a user
// request of userSize bytes: header + payload, rounded up to the bin
// granularity, floored at MinBlockSize.
func requiredBlockSize(userSize uint64) uint64 {
	need := userSize + headerSize
	need = (need + binGranularity - 1) &^ (binGranularity - 1)
	if need < MinBlockSize {
		need = MinBlockSize
	}
	return need
}

// UserCapacity returns how many bytes of user payload a block of the given
// total size can hold (used to report malloc_usable_size).
func UserCapacity(blockSize uint64) uint64 {
	return blockSize - headerSize
}

// RequiredBlockSize exposes requiredBlockSize to other packages (the large
// allocator, sizing a fresh Blocked slab to a specific request).
func RequiredBlockSize(userSize uint64) uint64 {
	return requiredBlockSize(userSize)
}

// --- in-band link field accessors, shared by bins.go and tree.go ---

// Free-block payload layout (offsets relative to the block's own header
// offset):
//
//	+0  header (8 bytes, shared with allocated blocks)
//	+8  link word A: bin-list "next" OR tree "left" (top bit = color)
//	+12 link word B: bin-list "prev" OR tree "right"
//	+16 link word C: tree "parent" (unused by bin lists)
//	...
//	size-8 footer (8 bytes)
const (
	linkA = headerSize
	linkB = headerSize + 4
	linkC = headerSize + 8
)

func getLinkA(mem []byte, off uint32) uint32 { return readU32(mem, off+linkA) }
func setLinkA(mem []byte, off uint32, v uint32) { writeU32(mem, off+linkA, v) }
func getLinkB(mem []byte, off uint32) uint32 { return readU32(mem, off+linkB) }
func setLinkB(mem []byte, off uint32, v uint32) { writeU32(mem, off+linkB, v) }
func getLinkC(mem []byte, off uint32) uint32 { return readU32(mem, off+linkC) }
func setLinkC(mem []byte, off uint32, v uint32) { writeU32(mem, off+linkC, v) }

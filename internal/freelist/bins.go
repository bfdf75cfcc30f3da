package freelist

import "github.com/nmxmxh/ckgo/internal/bitset"

// numBins covers block sizes [MinBlockSize, LargeThreshold] at
// binGranularity resolution.
const numBins = (LargeThreshold-MinBlockSize)/binGranularity + 1

func binIndex(size uint64) int {
	return int((size - MinBlockSize) / binGranularity)
}

// binSet is the small-size bin array plus its occupancy bitset.
type binSet struct {
	heads [numBins]uint32 // NilOff when empty
	occ   *bitset.Set
}

func newBinSet() *binSet {
	bs := &binSet{occ: bitset.New(numBins)}
	for i := range bs.heads {
		bs.heads[i] = NilOff
	}
	return bs
}

func (b *binSet) push(mem []byte, off uint32, size uint64) {
	idx := binIndex(size)
	head := b.heads[idx]
	setLinkA(mem, off, head) // next
	setLinkB(mem, off, NilOff)
	if head != NilOff {
		setLinkB(mem, head, off) // head.prev = off
	}
	b.heads[idx] = off
	b.occ.Set(idx)
}

func (b *binSet) remove(mem []byte, off uint32, size uint64) {
	idx := binIndex(size)
	next := getLinkA(mem, off)
	prev := getLinkB(mem, off)
	if prev != NilOff {
		setLinkA(mem, prev, next)
	} else {
		b.heads[idx] = next
	}
	if next != NilOff {
		setLinkB(mem, next, prev)
	}
	if b.heads[idx] == NilOff {
		b.occ.Clear(idx)
	}
}

// findFrom returns a free block offset from the smallest non-empty bin at
// index >= idx, or (0, false) if none exists.
func (b *binSet) findFrom(idx int) (uint32, bool) {
	if idx < 0 {
		idx = 0
	}
	i, ok := b.occ.FirstSetFrom(idx)
	if !ok {
		return 0, false
	}
	return b.heads[i], true
}

package freelist

// largeTree is a red-black tree over free blocks sized above
// LargeThreshold, keyed by (size, address). Unlike internal/rbtree, nodes
// are not Go objects: the tree is threaded through the blocks' own
// in-band link fields (getLinkA/B/C), addressed by byte offset, so no
// allocation is needed to maintain the index.
//
// Color is packed into the top bit of the "left" link word, since heap
// offsets fit in 29 bits (512 MiB / 1-byte granularity) and leave the top
// bits free.
const colorBit = uint32(1) << 31

func packLeft(child uint32, red bool) uint32 {
	v := child &^ colorBit
	if red {
		v |= colorBit
	}
	return v
}

func unpackLeft(v uint32) (child uint32, red bool) {
	child = v &^ colorBit
	if child == NilOff&^colorBit {
		// NilOff loses its top bit when packed; restore the sentinel.
		child = NilOff
	}
	return child, v&colorBit != 0
}

type largeTree struct {
	root uint32 // NilOff when empty
}

func newLargeTree() *largeTree {
	return &largeTree{root: NilOff}
}

func (t *largeTree) left(mem []byte, n uint32) uint32 {
	c, _ := unpackLeft(getLinkA(mem, n))
	return c
}

func (t *largeTree) setLeft(mem []byte, n, child uint32) {
	_, red := unpackLeft(getLinkA(mem, n))
	setLinkA(mem, n, packLeft(child, red))
}

func (t *largeTree) red(mem []byte, n uint32) bool {
	if n == NilOff {
		return false
	}
	_, red := unpackLeft(getLinkA(mem, n))
	return red
}

func (t *largeTree) setColor(mem []byte, n uint32, red bool) {
	child, _ := unpackLeft(getLinkA(mem, n))
	setLinkA(mem, n, packLeft(child, red))
}

func (t *largeTree) right(mem []byte, n uint32) uint32   { return getLinkB(mem, n) }
func (t *largeTree) setRight(mem []byte, n, c uint32)    { setLinkB(mem, n, c) }
func (t *largeTree) parent(mem []byte, n uint32) uint32  { return getLinkC(mem, n) }
func (t *largeTree) setParent(mem []byte, n, p uint32)   { setLinkC(mem, n, p) }

func (t *largeTree) less(mem []byte, a, b uint32) bool {
	sa, sb := BlockSize(mem, a), BlockSize(mem, b)
	if sa != sb {
		return sa < sb
	}
	return a < b
}

// Insert adds the free block at off (already sized/flagged) into the tree.
func (t *largeTree) Insert(mem []byte, off uint32) {
	setLinkA(mem, off, packLeft(NilOff, true))
	setLinkB(mem, off, NilOff)
	setLinkC(mem, off, NilOff)

	var parent uint32 = NilOff
	cur := t.root
	goLeft := false
	for cur != NilOff {
		parent = cur
		if t.less(mem, off, cur) {
			cur = t.left(mem, cur)
			goLeft = true
		} else {
			cur = t.right(mem, cur)
			goLeft = false
		}
	}
	t.setParent(mem, off, parent)
	switch {
	case parent == NilOff:
		t.root = off
	case goLeft:
		t.setLeft(mem, parent, off)
	default:
		t.setRight(mem, parent, off)
	}
	t.insertFixup(mem, off)
}

func (t *largeTree) transplant(mem []byte, u, v uint32) {
	p := t.parent(mem, u)
	switch {
	case p == NilOff:
		t.root = v
	case u == t.left(mem, p):
		t.setLeft(mem, p, v)
	default:
		t.setRight(mem, p, v)
	}
	if v != NilOff {
		t.setParent(mem, v, p)
	}
}

func (t *largeTree) rotateLeft(mem []byte, x uint32) {
	y := t.right(mem, x)
	t.setRight(mem, x, t.left(mem, y))
	if t.left(mem, y) != NilOff {
		t.setParent(mem, t.left(mem, y), x)
	}
	t.setParent(mem, y, t.parent(mem, x))
	switch {
	case t.parent(mem, x) == NilOff:
		t.root = y
	case x == t.left(mem, t.parent(mem, x)):
		t.setLeft(mem, t.parent(mem, x), y)
	default:
		t.setRight(mem, t.parent(mem, x), y)
	}
	t.setLeft(mem, y, x)
	t.setParent(mem, x, y)
}

func (t *largeTree) rotateRight(mem []byte, x uint32) {
	y := t.left(mem, x)
	t.setLeft(mem, x, t.right(mem, y))
	if t.right(mem, y) != NilOff {
		t.setParent(mem, t.right(mem, y), x)
	}
	t.setParent(mem, y, t.parent(mem, x))
	switch {
	case t.parent(mem, x) == NilOff:
		t.root = y
	case x == t.right(mem, t.parent(mem, x)):
		t.setRight(mem, t.parent(mem, x), y)
	default:
		t.setLeft(mem, t.parent(mem, x), y)
	}
	t.setRight(mem, y, x)
	t.setParent(mem, x, y)
}

func (t *largeTree) insertFixup(mem []byte, z uint32) {
	for t.parent(mem, z) != NilOff && t.red(mem, t.parent(mem, z)) {
		p := t.parent(mem, z)
		gp := t.parent(mem, p)
		if p == t.left(mem, gp) {
			y := t.right(mem, gp)
			if t.red(mem, y) {
				t.setColor(mem, p, false)
				t.setColor(mem, y, false)
				t.setColor(mem, gp, true)
				z = gp
				continue
			}
			if z == t.right(mem, p) {
				z = p
				t.rotateLeft(mem, z)
				p = t.parent(mem, z)
				gp = t.parent(mem, p)
			}
			t.setColor(mem, p, false)
			t.setColor(mem, gp, true)
			t.rotateRight(mem, gp)
		} else {
			y := t.left(mem, gp)
			if t.red(mem, y) {
				t.setColor(mem, p, false)
				t.setColor(mem, y, false)
				t.setColor(mem, gp, true)
				z = gp
				continue
			}
			if z == t.left(mem, p) {
				z = p
				t.rotateRight(mem, z)
				p = t.parent(mem, z)
				gp = t.parent(mem, p)
			}
			t.setColor(mem, p, false)
			t.setColor(mem, gp, true)
			t.rotateLeft(mem, gp)
		}
	}
	t.setColor(mem, t.root, false)
}

func (t *largeTree) min(mem []byte, n uint32) uint32 {
	for t.left(mem, n) != NilOff {
		n = t.left(mem, n)
	}
	return n
}

// Remove unlinks the free block at off from the tree.
func (t *largeTree) Remove(mem []byte, off uint32) {
	y := off
	yOrigRed := t.red(mem, y)
	var x, xParent uint32

	if t.left(mem, off) == NilOff {
		x, xParent = t.right(mem, off), t.parent(mem, off)
		t.transplant(mem, off, t.right(mem, off))
	} else if t.right(mem, off) == NilOff {
		x, xParent = t.left(mem, off), t.parent(mem, off)
		t.transplant(mem, off, t.left(mem, off))
	} else {
		y = t.min(mem, t.right(mem, off))
		yOrigRed = t.red(mem, y)
		x = t.right(mem, y)
		if t.parent(mem, y) == off {
			xParent = y
		} else {
			xParent = t.parent(mem, y)
			t.transplant(mem, y, t.right(mem, y))
			t.setRight(mem, y, t.right(mem, off))
			t.setParent(mem, t.right(mem, y), y)
		}
		t.transplant(mem, off, y)
		t.setLeft(mem, y, t.left(mem, off))
		t.setParent(mem, t.left(mem, y), y)
		t.setColor(mem, y, t.red(mem, off))
	}
	if !yOrigRed {
		t.deleteFixup(mem, x, xParent)
	}
}

func (t *largeTree) deleteFixup(mem []byte, x, parent uint32) {
	for x != t.root && !t.red(mem, x) && parent != NilOff {
		if x == t.left(mem, parent) {
			w := t.right(mem, parent)
			if t.red(mem, w) {
				t.setColor(mem, w, false)
				t.setColor(mem, parent, true)
				t.rotateLeft(mem, parent)
				w = t.right(mem, parent)
			}
			if w == NilOff {
				x, parent = parent, t.parent(mem, parent)
				continue
			}
			if !t.red(mem, t.left(mem, w)) && !t.red(mem, t.right(mem, w)) {
				t.setColor(mem, w, true)
				x, parent = parent, t.parent(mem, parent)
				continue
			}
			if !t.red(mem, t.right(mem, w)) {
				if t.left(mem, w) != NilOff {
					t.setColor(mem, t.left(mem, w), false)
				}
				t.setColor(mem, w, true)
				t.rotateRight(mem, w)
				w = t.right(mem, parent)
			}
			t.setColor(mem, w, t.red(mem, parent))
			t.setColor(mem, parent, false)
			if t.right(mem, w) != NilOff {
				t.setColor(mem, t.right(mem, w), false)
			}
			t.rotateLeft(mem, parent)
			x = t.root
		} else {
			w := t.left(mem, parent)
			if t.red(mem, w) {
				t.setColor(mem, w, false)
				t.setColor(mem, parent, true)
				t.rotateRight(mem, parent)
				w = t.left(mem, parent)
			}
			if w == NilOff {
				x, parent = parent, t.parent(mem, parent)
				continue
			}
			if !t.red(mem, t.right(mem, w)) && !t.red(mem, t.left(mem, w)) {
				t.setColor(mem, w, true)
				x, parent = parent, t.parent(mem, parent)
				continue
			}
			if !t.red(mem, t.left(mem, w)) {
				if t.right(mem, w) != NilOff {
					t.setColor(mem, t.right(mem, w), false)
				}
				t.setColor(mem, w, true)
				t.rotateLeft(mem, w)
				w = t.left(mem, parent)
			}
			t.setColor(mem, w, t.red(mem, parent))
			t.setColor(mem, parent, false)
			if t.left(mem, w) != NilOff {
				t.setColor(mem, t.left(mem, w), false)
			}
			t.rotateRight(mem, parent)
			x = t.root
		}
	}
	if x != NilOff {
		t.setColor(mem, x, false)
	}
}

// CeilingSize returns the offset of a free block with the smallest size
// that is >= need, or (0, false) if none exists.
func (t *largeTree) CeilingSize(mem []byte, need uint64) (uint32, bool) {
	cur := t.root
	var best uint32 = NilOff
	for cur != NilOff {
		if BlockSize(mem, cur) >= need {
			best = cur
			cur = t.left(mem, cur)
		} else {
			cur = t.right(mem, cur)
		}
	}
	if best == NilOff {
		return 0, false
	}
	return best, true
}

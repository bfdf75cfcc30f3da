// Package smallalloc implements the fixed-size slice allocator backing
// requests of 128 bytes or less. Each size class keeps a doubly linked
// list (by PageId, via the slab map, never by raw pointer) of
// partially-full Small slabs; within a slab, free slices form an
// intrusive singly linked stack threaded through the slice bodies
// themselves.
package smallalloc

import (
	"encoding/binary"

	"github.com/nmxmxh/ckgo/internal/pageid"
	"github.com/nmxmxh/ckgo/internal/slab"
	"github.com/nmxmxh/ckgo/internal/slabmanager"
)

// Classes are the nine fixed slice sizes, smallest first.
var Classes = [9]uint32{8, 16, 32, 48, 64, 80, 96, 112, 128}

// NumClasses is len(Classes).
const NumClasses = 9

// MaxSize is the largest request this allocator serves.
const MaxSize = 128

// ClassOf returns the smallest size class able to hold userSize, or
// (0, false) if userSize exceeds MaxSize.
func ClassOf(userSize uint64) (uint8, bool) {
	if userSize > MaxSize {
		return 0, false
	}
	for i, sz := range Classes {
		if userSize <= uint64(sz) {
			return uint8(i), true
		}
	}
	return 0, false
}

// SliceSize returns the slice size in bytes for a class index.
func SliceSize(class uint8) uint32 { return Classes[class] }

// Allocator owns the per-class partial-slab lists.
type Allocator struct {
	sm    *slabmanager.Manager
	heads [NumClasses]pageid.ID
}

// New creates a small allocator drawing fresh slabs from sm.
func New(sm *slabmanager.Manager) *Allocator {
	a := &Allocator{sm: sm}
	for i := range a.heads {
		a.heads[i] = pageid.Nil
	}
	return a
}

func readNext(mem []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(mem[off : off+4])
}

func writeNext(mem []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(mem[off:off+4], v)
}

// initFreeStack threads every slice in a fresh page into one free stack,
// lowest offset on top, and returns the head offset (always 0).
func initFreeStack(mem []byte, sliceSize uint32) uint32 {
	n := uint32(len(mem)) / sliceSize
	for i := uint32(0); i < n; i++ {
		off := i * sliceSize
		if i+1 < n {
			writeNext(mem, off, off+sliceSize)
		} else {
			writeNext(mem, off, slab.NoSlice)
		}
	}
	return 0
}

// AllocSmall returns the owning Meta and byte offset (within its first
// page) of a freshly allocated slice of the given class, or (nil, 0) on
// OOM.
func (a *Allocator) AllocSmall(class uint8) (*slab.Meta, uint32) {
	head := a.heads[class]
	var m *slab.Meta
	if head == pageid.Nil {
		m = a.newSlab(class)
		if m == nil {
			return nil, 0
		}
	} else {
		m = a.sm.SlabMap().FindSlab(head)
	}

	mem := a.sm.PageBytes(m.Start, 1)
	off := m.FreeSlice
	m.FreeSlice = readNext(mem, off)
	m.UsedSlices++
	if m.FreeSlice == slab.NoSlice {
		a.unlink(class, m)
	}
	return m, off
}

func (a *Allocator) newSlab(class uint8) *slab.Meta {
	sliceSize := Classes[class]
	m := a.sm.Alloc(1, slab.Small, func(m *slab.Meta) {
		m.SizeClass = class
		m.TotalSlices = pageid.Size / sliceSize
		m.PartialPrev = pageid.Nil
		m.PartialNext = pageid.Nil
	})
	if m == nil {
		return nil
	}
	mem := a.sm.PageBytes(m.Start, 1)
	m.FreeSlice = initFreeStack(mem, sliceSize)
	a.pushFront(class, m)
	return m
}

// FreeSmall returns slice off in m back to its free stack, re-linking m
// into the partial list if it had been full, or releasing m to the slab
// manager if it becomes entirely empty.
func (a *Allocator) FreeSmall(m *slab.Meta, off uint32) {
	mem := a.sm.PageBytes(m.Start, 1)
	wasFull := m.FreeSlice == slab.NoSlice

	writeNext(mem, off, m.FreeSlice)
	m.FreeSlice = off
	m.UsedSlices--

	if m.UsedSlices == 0 {
		if !wasFull {
			a.unlink(m.SizeClass, m)
		}
		a.sm.Free(m)
		return
	}
	if wasFull {
		a.pushFront(m.SizeClass, m)
	}
}

// ReallocSmall implements the same-class fast path: if newSize still
// belongs to m's class, the slice is returned unchanged. Callers handle
// the cross-class case themselves (new allocation + copy + free).
func ReallocSmall(m *slab.Meta, newSize uint64) bool {
	class, ok := ClassOf(newSize)
	return ok && class == m.SizeClass
}

func (a *Allocator) pushFront(class uint8, m *slab.Meta) {
	head := a.heads[class]
	m.PartialNext = head
	m.PartialPrev = pageid.Nil
	if head != pageid.Nil {
		if h := a.sm.SlabMap().FindSlab(head); h != nil {
			h.PartialPrev = m.Start
		}
	}
	a.heads[class] = m.Start
}

func (a *Allocator) unlink(class uint8, m *slab.Meta) {
	if m.PartialPrev != pageid.Nil {
		if p := a.sm.SlabMap().FindSlab(m.PartialPrev); p != nil {
			p.PartialNext = m.PartialNext
		}
	} else {
		a.heads[class] = m.PartialNext
	}
	if m.PartialNext != pageid.Nil {
		if n := a.sm.SlabMap().FindSlab(m.PartialNext); n != nil {
			n.PartialPrev = m.PartialPrev
		}
	}
	m.PartialPrev = pageid.Nil
	m.PartialNext = pageid.Nil
}

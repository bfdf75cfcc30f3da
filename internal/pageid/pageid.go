// Package pageid implements the fixed-size page addressing scheme that
// every other allocator component builds on: conversion between raw heap
// offsets and the small integer index used throughout the slab map and
// slab manager.
package pageid

import "math"

const (
	// PageShift is log2 of the page size.
	PageShift = 12
	// Size is the fixed page size in bytes (4 KiB).
	Size = 1 << PageShift

	// HeapSizeShift bounds the managed region to 512 MiB, so page indices
	// fit comfortably in 32 bits (2^17 of them).
	HeapSizeShift = 29
	// MaxHeapBytes is the largest heap region this package will address.
	MaxHeapBytes = 1 << HeapSizeShift
	// Max is the number of distinct page indices in a full-size heap.
	Max = 1 << (HeapSizeShift - PageShift)
)

// Nil is the zero-value sentinel for "no page", distinct from index 0 which
// is a valid page (the first run the slab manager carves from the heap).
const Nil ID = math.MaxUint32

// ID identifies a single page by its offset from the heap base, measured in
// page-size units. It intentionally carries no pointer so that it can be
// used as a map/array index and stored compactly inside slab metadata.
type ID uint32

// FromOffset converts a byte offset from the heap base into a page id. An
// offset inside a page maps to that page's id (the in-page bits are
// dropped); callers that have a raw address should subtract the heap base
// first.
func FromOffset(offset uintptr) ID {
	return ID(offset >> PageShift)
}

// Offset returns the byte offset of this page from the heap base.
func (id ID) Offset() uintptr {
	return uintptr(id) << PageShift
}

// Valid reports whether id is a real page index rather than Nil.
func (id ID) Valid() bool {
	return id != Nil
}

// Add returns the page n pages after id.
func (id ID) Add(n uint32) ID {
	return ID(uint32(id) + n)
}

// Sub returns the page n pages before id.
func (id ID) Sub(n uint32) ID {
	return ID(uint32(id) - n)
}

// Delta returns id-other as a signed page count.
func (id ID) Delta(other ID) int32 {
	return int32(id) - int32(other)
}

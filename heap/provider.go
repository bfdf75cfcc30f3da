// Package heap implements the system heap provider contract consumed by
// the allocator core: new_instance / extend / release over a raw byte
// region. The core treats this as an external collaborator, never
// assuming a particular backing strategy, only that Extend hands back a
// previously-uncommitted, page-aligned, zero-filled byte range that stays
// valid and stable for the life of the Provider.
package heap

import "github.com/nmxmxh/ckgo/internal/pageid"

// Provider is the system heap provider contract. Implementations must be
// safe for concurrent use; the core still serializes calls under its own
// lock, but Bytes() may be read by debug tooling concurrently with Extend.
type Provider interface {
	// Extend grows the committed region by deltaBytes, which must be a
	// multiple of pageid.Size, and returns the byte offset where the new
	// region begins. ok is false if the provider cannot grow further
	// (heap capacity exhausted or OS-level failure).
	Extend(deltaBytes uint64) (oldEnd uint64, ok bool)

	// Bytes returns the full committed region as a slice from offset 0.
	// The slice's length grows as Extend succeeds; previously-returned
	// sub-slices of it remain valid (Bytes never reallocates the
	// underlying array; implementations reserve their maximum size up
	// front).
	Bytes() []byte

	// Committed returns the number of committed bytes, i.e. len(Bytes()).
	Committed() uint64

	// Release returns the entire region to the OS. The Provider must not
	// be used afterwards.
	Release()
}

// PageAt returns the byte slice for a single page, given its id. It is a
// convenience wrapper shared by every caller that needs a page's raw bytes.
func PageAt(p Provider, id pageid.ID) []byte {
	b := p.Bytes()
	off := id.Offset()
	return b[off : off+pageid.Size]
}

// RangeAt returns the byte slice spanning [start, start+nPages) pages.
func RangeAt(p Provider, start pageid.ID, nPages uint32) []byte {
	b := p.Bytes()
	off := start.Offset()
	end := off + uintptr(nPages)*pageid.Size
	return b[off:end]
}

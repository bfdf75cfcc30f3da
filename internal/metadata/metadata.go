// Package metadata implements the out-of-band allocator for everything the
// core needs that is not itself user data: slab metadata records and radix
// nodes for the slab map. It never returns memory to the heap provider;
// metadata pages are permanent for the life of the heap.
//
// Metadata pages are obtained directly from the heap.Provider rather than
// through the slab manager, which breaks what would otherwise be a
// circular dependency (the slab manager needs a Meta record for every slab
// it creates, including the very first one, and that record has to come
// from somewhere that doesn't itself need a slab). Both this package and
// the slab manager share one Provider, which serializes Extend calls, so
// the two never hand out overlapping page ranges.
package metadata

import (
	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/pageid"
	"github.com/nmxmxh/ckgo/internal/slab"
)

// Manager is the metadata bump allocator.
type Manager struct {
	provider heap.Provider

	// Bump pointer into the current metadata page.
	curPage   []byte
	curOffset int

	// Freelist of reclaimed, fixed-size slab.Meta records.
	freeMeta *slab.Meta

	metaPages int // number of page runs committed for metadata, stats only
}

// New creates a metadata manager drawing raw pages from provider.
func New(provider heap.Provider) *Manager {
	return &Manager{provider: provider}
}

// NewSlabMeta returns a zeroed slab.Meta, reused from the freelist if one is
// available, else a newly allocated Go object (records are not carved from
// the bump-pointer page).
func (m *Manager) NewSlabMeta() *slab.Meta {
	if m.freeMeta != nil {
		meta := m.freeMeta
		m.freeMeta = meta.Next
		meta.Reset()
		return meta
	}
	return &slab.Meta{}
}

// FreeSlabMeta returns meta to the reuse freelist.
func (m *Manager) FreeSlabMeta(meta *slab.Meta) {
	meta.Reset()
	meta.Next = m.freeMeta
	m.freeMeta = meta
}

// Alloc returns size bytes of permanent metadata storage aligned to
// alignment (a power of two), used for slab-map radix nodes and leaves.
// Returns nil if the heap cannot be extended further.
func (m *Manager) Alloc(size, alignment int) []byte {
	if alignment <= 0 {
		alignment = 1
	}
	aligned := (m.curOffset + alignment - 1) &^ (alignment - 1)
	if m.curPage == nil || aligned+size > len(m.curPage) {
		nPages := uint32((size + int(pageid.Size) - 1) / int(pageid.Size))
		if nPages == 0 {
			nPages = 1
		}
		remainingCur := 0
		if m.curPage != nil {
			remainingCur = len(m.curPage) - m.curOffset
		}
		oldEnd, ok := m.provider.Extend(uint64(nPages) * pageid.Size)
		if !ok {
			return nil
		}
		m.metaPages += int(nPages)
		newPage := m.provider.Bytes()[oldEnd : oldEnd+uint64(nPages)*pageid.Size]

		// Migrate the bump pointer to the new page only if its remaining
		// room after this request beats what's left on the current page;
		// otherwise serve this one request from the new page but keep
		// bumping the old page for subsequent small requests.
		if len(newPage)-size > remainingCur {
			m.curPage = newPage
			m.curOffset = size
		}
		return newPage[0:size]
	}
	out := m.curPage[aligned : aligned+size]
	m.curOffset = aligned + size
	return out
}

// MetaPageCount reports how many pages have been committed for metadata
// use; exposed for internal/stats.
func (m *Manager) MetaPageCount() int {
	return m.metaPages
}

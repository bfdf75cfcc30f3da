//go:build linux || darwin

package heap

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapProvider reserves the full heap address range up front with
// PROT_NONE and commits pages on demand via mprotect, the same
// reserve-then-commit shape used by the mmap package in the retrieval
// corpus (Map.Capacity vs Map.Size): reserving address space is cheap and
// guarantees Bytes() never needs to move the underlying array as the heap
// grows.
type MmapProvider struct {
	mu        sync.Mutex
	data      []byte
	committed uint64
	maxSize   uint64
}

// NewMmap reserves maxSize bytes of address space for the heap.
func NewMmap(maxSize uint64) (*MmapProvider, error) {
	if maxSize == 0 {
		return nil, fmt.Errorf("heap: maxSize must be > 0")
	}
	data, err := unix.Mmap(-1, 0, int(maxSize), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("heap: reserve %d bytes: %w", maxSize, err)
	}
	return &MmapProvider{
		data:    data,
		maxSize: maxSize,
	}, nil
}

func (m *MmapProvider) Extend(deltaBytes uint64) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldEnd := m.committed
	newEnd := oldEnd + deltaBytes
	if newEnd > m.maxSize {
		return 0, false
	}
	if err := unix.Mprotect(m.data[oldEnd:newEnd], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return 0, false
	}
	m.committed = newEnd
	return oldEnd, true
}

func (m *MmapProvider) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[:m.committed]
}

func (m *MmapProvider) Committed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

func (m *MmapProvider) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data != nil {
		_ = unix.Munmap(m.data)
		m.data = nil
		m.committed = 0
	}
}

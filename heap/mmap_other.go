//go:build !linux && !darwin

package heap

import "fmt"

// MmapProvider falls back to the fake, slice-backed provider on platforms
// without the unix mmap/mprotect syscalls this package otherwise relies on.
type MmapProvider struct {
	*FakeProvider
}

// NewMmap reserves maxSize bytes for the heap. On unsupported platforms this
// degrades to heap memory rather than a real mapping.
func NewMmap(maxSize uint64) (*MmapProvider, error) {
	if maxSize == 0 {
		return nil, fmt.Errorf("heap: maxSize must be > 0")
	}
	return &MmapProvider{FakeProvider: NewFake(maxSize)}, nil
}

package heap

// FakeProvider backs the heap with a plain Go byte slice instead of a real
// OS mapping. It is the provider used by every unit test and by
// cmd/ckgo-trace -fake: it has identical Extend/Bytes/Release semantics to
// MmapProvider but needs no platform-specific syscalls, so tests stay
// portable and fast.
type FakeProvider struct {
	data    []byte
	maxSize uint64
}

// NewFake creates a FakeProvider that can grow up to maxSize bytes.
func NewFake(maxSize uint64) *FakeProvider {
	return &FakeProvider{
		data:    make([]byte, 0, maxSize),
		maxSize: maxSize,
	}
}

func (f *FakeProvider) Extend(deltaBytes uint64) (uint64, bool) {
	oldEnd := uint64(len(f.data))
	newEnd := oldEnd + deltaBytes
	if newEnd > f.maxSize {
		return 0, false
	}
	f.data = f.data[:newEnd]
	return oldEnd, true
}

func (f *FakeProvider) Bytes() []byte {
	return f.data
}

func (f *FakeProvider) Committed() uint64 {
	return uint64(len(f.data))
}

func (f *FakeProvider) Release() {
	f.data = nil
}

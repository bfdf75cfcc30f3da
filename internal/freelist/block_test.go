package freelist

import "testing"

func newMem(n int) []byte {
	return make([]byte, n)
}

func TestHeaderRoundTrip(t *testing.T) {
	mem := newMem(256)
	InitHeader(mem, 0, 64, true, false)
	if !IsFree(mem, 0) {
		t.Fatalf("expected block free")
	}
	if PrevFree(mem, 0) {
		t.Fatalf("expected prevFree false")
	}
	if got := BlockSize(mem, 0); got != 64 {
		t.Fatalf("BlockSize = %d, want 64", got)
	}

	setPrevFree(mem, 0, true)
	if !PrevFree(mem, 0) {
		t.Fatalf("expected prevFree true after set")
	}
	if got := BlockSize(mem, 0); got != 64 {
		t.Fatalf("BlockSize changed after setPrevFree: %d", got)
	}
}

func TestFooterAndPrevSize(t *testing.T) {
	mem := newMem(256)
	InitHeader(mem, 0, 96, true, false)
	WriteFooter(mem, 0, 96)

	InitHeader(mem, 96, 48, false, true)
	if got := PrevSize(mem, 96); got != 96 {
		t.Fatalf("PrevSize = %d, want 96", got)
	}
	if got := PrevAdjacent(mem, 96); got != 0 {
		t.Fatalf("PrevAdjacent = %d, want 0", got)
	}
	if got := NextAdjacent(mem, 0); got != 96 {
		t.Fatalf("NextAdjacent = %d, want 96", got)
	}
}

func TestRequiredBlockSize(t *testing.T) {
	cases := []struct {
		user uint64
		want uint64
	}{
		{0, MinBlockSize},
		{1, MinBlockSize},
		{8, MinBlockSize},
		{24, 32},
		{100, 112},
	}
	for _, c := range cases {
		if got := requiredBlockSize(c.user); got != c.want {
			t.Errorf("requiredBlockSize(%d) = %d, want %d", c.user, got, c.want)
		}
	}
}

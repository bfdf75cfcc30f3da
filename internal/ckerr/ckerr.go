// Package ckerr defines the sentinel errors for programmer-error
// conditions (double free, freeing a pointer the allocator never handed
// out, misaligned pointers) and the debug-only invariant checks that
// detect them. Outside of a ckgo_debug build, Assertf compiles down to a
// no-op: these conditions are undefined behavior in release builds,
// checked only in debug builds.
package ckerr

import "errors"

var (
	ErrDoubleFree  = errors.New("ckgo: double free")
	ErrNotOwned    = errors.New("ckgo: pointer not owned by this allocator")
	ErrMisaligned  = errors.New("ckgo: misaligned pointer")
	ErrInvalidSize = errors.New("ckgo: invalid size or alignment argument")
)

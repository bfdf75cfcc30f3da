//go:build !ckgo_debug

package ckerr

// Debug reports whether this build was compiled with -tags ckgo_debug.
const Debug = false

// Assertf is a no-op in release builds.
func Assertf(cond bool, format string, args ...any) {}

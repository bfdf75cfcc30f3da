//go:build ckgo_debug

package ckerr

import "fmt"

// Debug reports whether this build was compiled with -tags ckgo_debug.
const Debug = true

// Assertf panics with a formatted message if cond is false. Compiled out
// entirely in non-debug builds.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("ckgo: invariant violated: "+format, args...))
	}
}

// Command ckgo-trace replays a line-oriented allocation trace against a
// ckgo heap and prints the resulting counters. It is a debugging and
// fuzzing aid, not part of the library's public surface.
//
// Trace lines:
//
//	a <id> <size>   allocate <size> bytes, remember the pointer as <id>
//	f <id>          free the pointer remembered as <id>
//	r <id> <size>   realloc <id> to <size> bytes, keeping the id bound to
//	                the (possibly new) pointer
//
// Blank lines and lines starting with # are ignored.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/nmxmxh/ckgo"
	"github.com/nmxmxh/ckgo/heap"
	"github.com/nmxmxh/ckgo/internal/core"
)

func main() {
	file := flag.String("file", "", "trace file to replay (default: stdin)")
	fake := flag.Bool("fake", false, "use an in-memory heap provider instead of mmap")
	maxHeap := flag.Uint64("max-heap", 0, "override the heap's max size in bytes (0: library default)")
	verbose := flag.Bool("v", false, "log each operation at debug level")
	flag.Parse()

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	var opts []ckgo.Option
	opts = append(opts, ckgo.WithLogger(logger))
	if *maxHeap != 0 {
		opts = append(opts, ckgo.WithMaxHeapBytes(*maxHeap))
	}
	if *fake {
		size := *maxHeap
		if size == 0 {
			size = 512 * 1024 * 1024
		}
		opts = append(opts, ckgo.WithProvider(heap.NewFake(size)))
	}

	in := os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ckgo-trace:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	coreInst := ckgo.New(opts...)
	live := make(map[string]unsafe.Pointer)

	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := replay(coreInst, live, line, logger); err != nil {
			fmt.Fprintf(os.Stderr, "ckgo-trace: line %d: %v\n", lineNo, err)
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "ckgo-trace:", err)
		os.Exit(1)
	}

	report(coreInst)
}

func replay(c *core.Core, live map[string]unsafe.Pointer, line string, logger *slog.Logger) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "a":
		if len(fields) != 3 {
			return fmt.Errorf("malformed alloc line %q", line)
		}
		id := fields[1]
		size, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("bad size in %q: %w", line, err)
		}
		ptr := c.Malloc(size)
		logger.Debug("alloc", "id", id, "size", size, "ok", ptr != nil)
		live[id] = ptr

	case "f":
		if len(fields) != 2 {
			return fmt.Errorf("malformed free line %q", line)
		}
		id := fields[1]
		ptr, ok := live[id]
		if !ok {
			return fmt.Errorf("free of unknown id %q", id)
		}
		c.Free(ptr)
		logger.Debug("free", "id", id)
		delete(live, id)

	case "r":
		if len(fields) != 3 {
			return fmt.Errorf("malformed realloc line %q", line)
		}
		id := fields[1]
		size, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("bad size in %q: %w", line, err)
		}
		ptr := c.Realloc(live[id], size)
		logger.Debug("realloc", "id", id, "size", size, "ok", ptr != nil)
		if ptr == nil && size != 0 {
			return fmt.Errorf("realloc of id %q failed (oom)", id)
		}
		live[id] = ptr

	default:
		return fmt.Errorf("unknown op %q", fields[0])
	}
	return nil
}

func report(c *core.Core) {
	s := c.Stats
	fmt.Printf("bytes_allocated=%d bytes_freed=%d live_bytes=%d\n",
		s.BytesAllocated.Load(), s.BytesFreed.Load(), s.LiveBytes())
	fmt.Printf("small_allocs=%d small_frees=%d large_allocs=%d large_frees=%d\n",
		s.SmallAllocs.Load(), s.SmallFrees.Load(), s.LargeAllocs.Load(), s.LargeFrees.Load())
	fmt.Printf("live_slabs small=%d blocked=%d single=%d\n",
		s.LiveSmallSlabs.Load(), s.LiveBlockedSlabs.Load(), s.LiveSingleSlabs.Load())
}

// Package heap implements the small-block kernel allocator the spec treats
// as an interface-specified, internals-unspecified boundary collaborator
// (spec §1, §9): "a well-known boundary-tag first-fit design — its
// interface is specified, not its internals." This package owns a single
// contiguous byte arena (config.Config.HeapSize) and hands out aligned
// sub-slices from it, coalescing adjacent free blocks on release.
package heap

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/OSH-2025/rtkernel/pkg/rtos/config"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kerr"
	"github.com/pkg/errors"
)

// tag is the boundary tag of one block in the arena, kept in a side map
// keyed by the block's start offset rather than inside the arena itself.
type tag struct {
	size int
	free bool
	// owner is the optional thread-tracing field (spec §9, Open Questions):
	// populated only when config.Config.HeapTracing is enabled.
	owner string
}

const tagSize = 32 // a free block is split only if more than this many bytes would remain

// Heap is a boundary-tag first-fit allocator over a fixed-size arena.
type Heap struct {
	mu      sync.Mutex
	arena   []byte
	tags    map[int]*tag // block start offset -> tag
	order   []int        // block start offsets, ascending, kept sorted
	tracing bool
}

// New allocates the arena and initializes it as a single free block.
func New(cfg config.Config) *Heap {
	h := &Heap{
		arena:   make([]byte, cfg.HeapSize),
		tags:    make(map[int]*tag),
		tracing: cfg.HeapTracing,
	}
	h.tags[0] = &tag{size: int(cfg.HeapSize), free: true}
	h.order = []int{0}
	return h
}

func align(n int, alignment uintptr) int {
	a := int(alignment)
	return (n + a - 1) &^ (a - 1)
}

// Alloc returns a slice from the arena of size bytes rounded up to
// alignment (or the whole first-fit block, when the remainder would be too
// small to split off), or a kerr.NOMEM error wrapped with boundary context
// if no free block is large enough. owner is
// recorded only when tracing is enabled (spec §9).
func (h *Heap) Alloc(size int, alignment uintptr, owner string) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrap(kerr.INVAL, "heap: Alloc size must be positive")
	}
	need := align(size, alignment)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, off := range h.order {
		t := h.tags[off]
		if !t.free || t.size < need {
			continue
		}
		if t.size > need+tagSize {
			// Split: carve out `need` bytes, leave the remainder free.
			remOff := off + need
			h.tags[remOff] = &tag{size: t.size - need, free: true}
			t.size = need
			h.insertOrdered(remOff)
		}
		t.free = false
		if h.tracing {
			t.owner = owner
		}
		return h.arena[off : off+t.size : off+t.size], nil
	}
	return nil, errors.Wrapf(kerr.NOMEM, "heap: no free block for %d bytes (requested %d, aligned %d)", size, size, need)
}

// Free returns a previously allocated slice to the arena, coalescing with
// adjacent free neighbors.
func (h *Heap) Free(block []byte) error {
	if len(block) == 0 {
		return nil
	}
	off := h.offsetOf(block)
	if off < 0 {
		return errors.Wrap(kerr.INVAL, "heap: Free called with a slice not owned by this heap")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.tags[off]
	if !ok || t.free {
		return errors.Wrap(kerr.INVAL, "heap: double free or corrupt boundary tag")
	}
	t.free = true
	t.owner = ""
	h.coalesce(off)
	return nil
}

// Owner reports the name recorded for the block starting at the same
// address as ptr, when tracing is enabled (spec §9 "thread-tracing fields
// are optional").
func (h *Heap) Owner(ptr []byte) (string, bool) {
	if !h.tracing {
		return "", false
	}
	off := h.offsetOf(ptr)
	if off < 0 {
		return "", false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tags[off]
	if !ok || t.free {
		return "", false
	}
	return t.owner, true
}

// offsetOf recovers a block's start offset within the arena via pointer
// arithmetic, matching a real boundary-tag allocator's reliance on pointer
// (not handle) identity; bounds-checked against the arena extent.
func (h *Heap) offsetOf(block []byte) int {
	if len(h.arena) == 0 || len(block) == 0 {
		return -1
	}
	base := uintptr(unsafe.Pointer(&h.arena[0]))
	ptr := uintptr(unsafe.Pointer(&block[0]))
	if ptr < base {
		return -1
	}
	off := int(ptr - base)
	if off < 0 || off >= len(h.arena) {
		return -1
	}
	return off
}

func (h *Heap) insertOrdered(off int) {
	i := 0
	for ; i < len(h.order); i++ {
		if h.order[i] > off {
			break
		}
	}
	h.order = append(h.order, 0)
	copy(h.order[i+1:], h.order[i:])
	h.order[i] = off
}

func (h *Heap) removeOrdered(off int) {
	for i, o := range h.order {
		if o == off {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}

// coalesce merges the free block at off with its immediate free neighbors.
func (h *Heap) coalesce(off int) {
	t := h.tags[off]
	for i, o := range h.order {
		if o != off {
			continue
		}
		if i+1 < len(h.order) {
			next := h.order[i+1]
			if nt := h.tags[next]; nt.free && next == off+t.size {
				t.size += nt.size
				delete(h.tags, next)
				h.removeOrdered(next)
			}
		}
		if i > 0 {
			prev := h.order[i-1]
			if pt := h.tags[prev]; pt.free && off == prev+pt.size {
				pt.size += t.size
				delete(h.tags, off)
				h.removeOrdered(off)
			}
		}
		return
	}
}

// Stats reports coarse heap occupancy, useful for diagnostics.
type Stats struct {
	TotalBytes int
	FreeBytes  int
	Blocks     int
}

// Stats walks every block and reports occupancy.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{TotalBytes: len(h.arena), Blocks: len(h.order)}
	for _, off := range h.order {
		if h.tags[off].free {
			s.FreeBytes += h.tags[off].size
		}
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("heap: %d/%d bytes free across %d blocks", s.FreeBytes, s.TotalBytes, s.Blocks)
}

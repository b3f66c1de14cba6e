package dumparena

import (
	"github.com/pavanmanishd/dumparena/heap"
	"github.com/pavanmanishd/dumparena/internal/fatal"
)

// HeapFallback forwards every dump allocation to the heap allocator. It
// exists to run arena consumers under heap tooling: nothing is ever released,
// Size is always 0 and the only valid mark is 0.
type HeapFallback struct {
	heap *heap.Checked
}

var _ Allocator = (*HeapFallback)(nil)

// NewHeapFallback returns a HeapFallback on h, or on heap.Default() if h is nil.
func NewHeapFallback(h *heap.Checked) *HeapFallback {
	if h == nil {
		h = heap.Default()
	}
	return &HeapFallback{heap: h}
}

// Alloc returns n zeroed bytes from the heap, or nil if n is zero.
func (f *HeapFallback) Alloc(n int) []byte {
	return f.heap.Alloc(n)
}

// Size always returns 0.
func (f *HeapFallback) Size() int {
	return 0
}

// Release accepts only mark 0 and frees nothing.
func (f *HeapFallback) Release(mark int) {
	if mark != 0 {
		fatal.Fatal(fatal.ErrIllegalRelease, "mark", mark, "used", 0)
	}
}

// Realloc resizes old through the heap allocator.
func (f *HeapFallback) Realloc(old []byte, newSize int) []byte {
	return f.heap.Realloc(old, len(old), newSize)
}

// Stats returns zero statistics; heap memory is not tracked here.
func (f *HeapFallback) Stats() ArenaStats {
	return ArenaStats{}
}

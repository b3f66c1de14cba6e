//go:build cgo

// Package cheap provides a heap.Allocator that uses calloc(3), realloc(3) and free(3).
// It requires cgo.
//
// Memory from this allocator is invisible to the Go garbage collector: it must
// not hold Go pointers, and it is only returned to the system through Free.
package cheap

// #include <stdlib.h>
// #include <string.h>
import "C"

import (
	"unsafe"

	"github.com/pavanmanishd/dumparena/heap"
)

// Allocator allocates outside the Go heap. Alloc and Realloc return nil when
// the C allocator fails, which heap.Checked turns into a fatal error.
type Allocator struct{}

var (
	_ heap.Allocator   = Allocator{}
	_ heap.Reallocator = Allocator{}
)

func (Allocator) Alloc(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	p := C.calloc(C.size_t(n), 1)
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

func (Allocator) Realloc(b []byte, n int) []byte {
	var p unsafe.Pointer
	if cap(b) > 0 {
		p = unsafe.Pointer(unsafe.SliceData(b))
	}
	np := C.realloc(p, C.size_t(n))
	if np == nil {
		return nil
	}
	if n > len(b) {
		C.memset(unsafe.Add(np, len(b)), 0, C.size_t(n-len(b)))
	}
	return unsafe.Slice((*byte)(np), n)
}

func (Allocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	C.free(unsafe.Pointer(unsafe.SliceData(b)))
}

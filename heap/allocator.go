package heap

import (
	"math/bits"
	"sync"
)

// Allocator is a source of raw memory for Checked.
//
// Alloc returns n zeroed bytes, or nil if the memory cannot be obtained.
// Free receives slices previously returned by Alloc, with their original length.
type Allocator interface {
	Alloc(n int) []byte
	Free(b []byte)
}

// Reallocator is implemented by backends that can resize an allocation
// without going through Alloc, copy and Free.
// The bytes past the old length must be zeroed. A nil return means out of memory.
type Reallocator interface {
	Realloc(b []byte, n int) []byte
}

// maxGoAlloc bounds requests passed to make. Larger ones exceed the address
// space the Go runtime manages on any supported platform.
const maxGoAlloc = 1 << 47

// GoAllocator allocates from the Go heap. Requests beyond maxGoAlloc yield
// nil; for the rest the Go runtime itself aborts when memory runs out.
type GoAllocator struct{}

func (GoAllocator) Alloc(n int) []byte {
	if uint64(n) > maxGoAlloc {
		return nil
	}
	return make([]byte, n)
}

func (GoAllocator) Free([]byte) {
}

const (
	SyncPoolAllocatorMinSize       = (1 << (SyncPoolAllocatorSkipBuckets - 1)) + 1
	SyncPoolAllocatorSkipBuckets   = 6
	SyncPoolAllocatorLargestBucket = 33
)

// SyncPoolAllocator recycles freed buffers through power-of-two size classes.
// The zero value is ready to use.
type SyncPoolAllocator struct {
	Pools [SyncPoolAllocatorLargestBucket - SyncPoolAllocatorSkipBuckets]sync.Pool
}

func (a *SyncPoolAllocator) Alloc(n int) []byte {
	if n < SyncPoolAllocatorMinSize {
		// Too small for the overhead of using a pool.
		return make([]byte, n)
	}
	class := bucketForSize(n)
	if class >= SyncPoolAllocatorLargestBucket {
		// Too big for the predeclared classes.
		return GoAllocator{}.Alloc(n)
	}
	if ret, ok := a.Pools[class-SyncPoolAllocatorSkipBuckets].Get().(*[]byte); ok {
		b := (*ret)[:n]
		clear(b)
		return b
	}
	return make([]byte, n, 1<<class)
}

func (a *SyncPoolAllocator) Free(b []byte) {
	if cap(b) < SyncPoolAllocatorMinSize {
		return
	}
	class := bucketForSize(cap(b))
	if class >= SyncPoolAllocatorLargestBucket || cap(b) != 1<<class {
		// Not one of ours.
		return
	}
	b = b[:0]
	a.Pools[class-SyncPoolAllocatorSkipBuckets].Put(&b)
}

func bucketForSize(n int) int {
	return 64 - bits.LeadingZeros64(uint64(n)-1)
}

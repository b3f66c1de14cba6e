package dumparena

import "unsafe"

// New returns a pointer to a zeroed T stored inside a.
// T must not contain Go pointers: arena blocks are byte buffers and are not
// scanned by the garbage collector.
func New[T any](a Allocator) *T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		return new(T)
	}
	b := a.Alloc(size)
	return (*T)(unsafe.Pointer(&b[0]))
}

// MakeSlice allocates a zeroed slice of n elements of type T inside a.
// Returns nil if n <= 0. The same restriction on T applies as for New.
func MakeSlice[T any](a Allocator, n int) []T {
	if n <= 0 {
		return nil
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if elemSize == 0 {
		return make([]T, n)
	}
	b := a.Alloc(elemSize * n)
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

// GrowSlice returns a slice of n elements holding the elements of s, moved to
// a fresh allocation in a. The old backing array is not reclaimed.
func GrowSlice[T any](a Allocator, s []T, n int) []T {
	if n <= len(s) {
		return s[:n]
	}
	out := MakeSlice[T](a, n)
	copy(out, s)
	return out
}

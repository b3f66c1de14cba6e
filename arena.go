package dumparena

import (
	"math"
	"unsafe"

	"github.com/pavanmanishd/dumparena/heap"
	"github.com/pavanmanishd/dumparena/internal/fatal"
)

const (
	// DefaultBlockSize is the minimum capacity of a new arena block (128 KiB).
	DefaultBlockSize = 128 << 10
	// DefaultGrowthUnit is the granularity block capacities are rounded up to.
	DefaultGrowthUnit = 128 << 10

	ptrAlign = int(unsafe.Sizeof(uintptr(0)))
)

// Allocator is the dump memory API shared by the plain arena, the canary
// checked arena and the heap fallback.
//
// Memory returned by Alloc is zeroed and stays valid until a Release to a
// mark taken before the allocation. It must never be freed individually.
type Allocator interface {
	// Alloc returns n zeroed bytes, or nil if n is zero.
	Alloc(n int) []byte
	// Size returns the current mark.
	Size() int
	// Release frees everything allocated since mark was returned by Size.
	Release(mark int)
	// Realloc copies old into a fresh allocation of newSize bytes.
	// The space held by old is not reclaimed.
	Realloc(old []byte, newSize int) []byte
	// Stats returns a snapshot of the allocator's bookkeeping.
	Stats() ArenaStats
}

// block is one heap buffer backing a contiguous stretch of the arena.
type block struct {
	buf []byte
}

// Arena is a block chained bump allocator with stack discipline.
// It is not goroutine-safe: each worker owns its own Arena.
type Arena struct {
	heap       *heap.Checked
	blocks     []block // blocks[len(blocks)-1] is the current block
	blockSize  int
	growthUnit int

	// used and allocated are measured from the start of the first block.
	// The next free byte of the current block is at
	// len(current) - (allocated - used).
	used      int
	allocated int

	gauges *blockGauges // nil unless the arena belongs to a Set
}

var _ Allocator = (*Arena)(nil)

// NewArena creates an empty Arena drawing blocks from h.
// A nil h selects heap.Default(). Non-positive sizes select the defaults.
func NewArena(h *heap.Checked, blockSize, growthUnit int) *Arena {
	if h == nil {
		h = heap.Default()
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if growthUnit <= 0 {
		growthUnit = DefaultGrowthUnit
	}
	// Keeps every block boundary, and so every allocation, pointer aligned.
	growthUnit = alignUp(growthUnit, ptrAlign)
	return &Arena{heap: h, blockSize: blockSize, growthUnit: growthUnit}
}

// Alloc returns n zeroed bytes from the current block, growing the arena if
// needed. Returns nil if n is zero.
func (a *Arena) Alloc(n int) []byte {
	if n == 0 {
		return nil
	}
	b := a.alloc(n)
	clear(b)
	return b
}

// alloc reserves n bytes rounded up to pointer alignment and returns the
// first n of them, with the capacity clipped so appends cannot reach into a
// neighbour. The bytes are not cleared.
func (a *Arena) alloc(n int) []byte {
	if n < 0 {
		fatal.Fatalf(fatal.ErrInvalidSize, "dump allocation of %d bytes", n)
	}
	if n > math.MaxInt-ptrAlign+1 {
		a.outOfMemory(n)
	}
	size := alignUp(n, ptrAlign)
	if size > a.allocated-a.used {
		a.grow(size)
	}

	cur := a.blocks[len(a.blocks)-1].buf
	off := len(cur) - (a.allocated - a.used)
	a.used += size
	return cur[off : off+n : off+n]
}

// grow pushes a block of at least size bytes. The unused tail of the previous
// block is given up.
func (a *Arena) grow(size int) {
	if size > math.MaxInt-a.allocated-a.growthUnit {
		a.outOfMemory(size)
	}
	capacity := roundUpToMultiple(max(size, a.blockSize), a.growthUnit)
	buf := a.heap.Alloc(capacity)
	a.blocks = append(a.blocks, block{buf: buf})
	a.used = a.allocated
	a.allocated += capacity
	if a.gauges != nil {
		a.gauges.blockAdded(capacity)
	}
}

// outOfMemory reports a request no block could ever hold.
func (a *Arena) outOfMemory(n int) {
	fatal.Fatal(
		fatal.ErrOutOfMemory,
		"requested", n,
		"used", a.used,
		"allocated", a.allocated,
	)
}

// Size returns the number of bytes in use, which is the mark to pass to Release.
func (a *Arena) Size() int {
	return a.used
}

// Release drops everything allocated since mark and frees blocks that lie
// entirely beyond it. A mark outside [0, Size()] is fatal.
func (a *Arena) Release(mark int) {
	a.checkMark(mark)
	a.used = mark

	for n := len(a.blocks); n > 0; n = len(a.blocks) {
		buf := a.blocks[n-1].buf
		if a.allocated-len(buf) < a.used {
			break
		}
		a.allocated -= len(buf)
		a.blocks[n-1] = block{}
		a.blocks = a.blocks[:n-1]
		a.heap.Free(buf, len(buf))
		if a.gauges != nil {
			a.gauges.blockRemoved(len(buf))
		}
	}
}

func (a *Arena) checkMark(mark int) {
	if mark < 0 || mark > a.used {
		fatal.Fatal(
			fatal.ErrIllegalRelease,
			"mark", mark,
			"used", a.used,
			"allocated", a.allocated,
		)
	}
}

// Realloc allocates newSize bytes and copies the prefix of old into them.
func (a *Arena) Realloc(old []byte, newSize int) []byte {
	b := a.Alloc(newSize)
	copy(b, old)
	return b
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func roundUpToMultiple(n, of int) int {
	return ((n + of - 1) / of) * of
}

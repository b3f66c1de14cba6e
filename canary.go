package dumparena

import (
	"encoding/hex"
	"fmt"
	"math"
	"unsafe"

	"github.com/pavanmanishd/dumparena/heap"
	"github.com/pavanmanishd/dumparena/internal/fatal"
)

const (
	// GuardSize is the number of canary bytes on each side of a payload.
	GuardSize = 16
	// GuardBase is the first canary byte; byte i of a guard is GuardBase+i.
	GuardBase = 0xca
	// PoisonByte overwrites released payloads.
	PoisonByte = heap.PoisonByte
)

// canaryRecord tracks one live allocation of a CheckedArena.
type canaryRecord struct {
	mark   int    // arena size when the allocation was made
	region []byte // leading guard, payload, trailing guard
	size   int    // payload size as requested
}

func (r *canaryRecord) payload() []byte {
	return r.region[GuardSize : GuardSize+r.size]
}

// validate aborts if a guard byte no longer matches its pattern.
func (r *canaryRecord) validate() {
	trailing := GuardSize + r.size
	for i := 0; i < GuardSize; i++ {
		want := byte(GuardBase + i)
		switch {
		case r.region[i] != want:
			r.violation(i, "leading")
		case r.region[trailing+i] != want:
			r.violation(trailing+i, "trailing")
		}
	}
}

func (r *canaryRecord) violation(offset int, side string) {
	fatal.Fatal(
		fatal.ErrCanaryViolation,
		"guard", side,
		"addr", fmt.Sprintf("%p", unsafe.SliceData(r.region)),
		"offset", offset,
		"size", r.size,
		"mark", r.mark,
		"dump", hex.Dump(r.region),
	)
}

func writeGuard(g []byte) {
	for i := range g {
		g[i] = byte(GuardBase + i)
	}
}

// CheckedArena wraps an Arena with canaries around every allocation and
// poisons released payloads. Overruns are reported at the next Release that
// covers the damaged allocation.
type CheckedArena struct {
	arena   *Arena
	records []canaryRecord // in allocation order
}

var _ Allocator = (*CheckedArena)(nil)

// NewCheckedArena creates an empty instrumented arena. Arguments are as for NewArena.
func NewCheckedArena(h *heap.Checked, blockSize, growthUnit int) *CheckedArena {
	return &CheckedArena{arena: NewArena(h, blockSize, growthUnit)}
}

// Alloc returns n zeroed bytes surrounded by guards, or nil if n is zero.
func (c *CheckedArena) Alloc(n int) []byte {
	if n == 0 {
		return nil
	}
	if n < 0 {
		fatal.Fatalf(fatal.ErrInvalidSize, "dump allocation of %d bytes", n)
	}
	if n > math.MaxInt-2*GuardSize-ptrAlign {
		c.arena.outOfMemory(n)
	}

	mark := c.arena.used
	region := c.arena.alloc(n + 2*GuardSize)
	writeGuard(region[:GuardSize])
	writeGuard(region[GuardSize+n:])

	// Register before clearing so that the guards get checked even if the
	// clear itself went wrong.
	c.records = append(c.records, canaryRecord{mark: mark, region: region, size: n})

	payload := region[GuardSize : GuardSize+n : GuardSize+n]
	clear(payload)
	return payload
}

// Size returns the current mark. Guard bytes are included.
func (c *CheckedArena) Size() int {
	return c.arena.Size()
}

// Release validates the guards of every allocation made since mark, poisons
// their payloads and then releases the arena.
func (c *CheckedArena) Release(mark int) {
	c.arena.checkMark(mark)

	i := len(c.records)
	for i > 0 && c.records[i-1].mark >= mark {
		i--
	}
	released := c.records[i:]
	for j := range released {
		released[j].validate()
	}
	for j := range released {
		fill(released[j].payload(), PoisonByte)
		released[j] = canaryRecord{}
	}
	c.records = c.records[:i]

	c.arena.Release(mark)
}

// Realloc allocates newSize bytes, copies old into them and poisons old.
func (c *CheckedArena) Realloc(old []byte, newSize int) []byte {
	b := c.Alloc(newSize)
	copy(b, old)
	fill(old, PoisonByte)
	return b
}

// NumBlocks returns the number of blocks backing the arena.
func (c *CheckedArena) NumBlocks() int {
	return c.arena.NumBlocks()
}

// Stats returns the wrapped arena's statistics. Guard bytes count as used.
func (c *CheckedArena) Stats() ArenaStats {
	return c.arena.Stats()
}

// liveAllocations returns the number of allocations not yet released.
func (c *CheckedArena) liveAllocations() int {
	return len(c.records)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Package dumparena implements dump memory: a block chained bump allocator
// with mark/release (stack) semantics.
//
// # Overview
//
// Dump memory serves short-lived scratch data that is freed in bulk, such as
// everything one compiler pass or one class load allocates. Callers take a
// mark, allocate freely and release back to the mark when the computation
// is done:
//
//	a := dumparena.NewArena(nil, 0, 0)
//
//	mark := a.Size()
//	buf := a.Alloc(1024)       // zeroed, valid until the release below
//	node := dumparena.New[node](a)
//	...
//	a.Release(mark)            // frees buf, node and everything after them
//
// Marks nest: an inner computation may take its own mark and release to it
// without disturbing the outer one.
//
// # Memory Layout
//
// The arena draws blocks of at least DefaultBlockSize bytes (rounded up to a
// multiple of the growth unit) from a heap.Checked allocator. When a request
// does not fit into the current block a new block is pushed and the rest of
// the old one is abandoned. Release pops every block that lies entirely above
// the mark and hands it back to the heap.
//
// # Thread Safety
//
// Arenas are not goroutine-safe and are never shared. Every worker owns
// exactly one allocator, which Set hands out lazily:
//
//	set := dumparena.NewSet(cfg, h)
//	a := set.Get(workerID)
//
// # Canaries
//
// CheckedArena surrounds every allocation with GuardSize bytes of a fixed
// pattern. Release validates the guards of everything it frees and poisons
// the payloads, so overruns and use-after-release show up as a fatal error
// or as PoisonByte reads. Config selects the implementation once, at
// construction; build with -tags arenadebug to turn canaries on by default.
//
// # Errors
//
// There are no error returns. Running out of memory, an illegal release mark
// and a damaged canary terminate the process with a diagnostic.
//
// # Important Notes
//
//   - Allocations are never freed individually.
//   - Realloc always copies; the old space is only reclaimed by Release.
//   - Alloc(0) returns nil and does not move the mark.
//   - Allocations are aligned to the pointer size.
package dumparena

// Command dumpstress drives per-worker dump arenas through nested
// mark/alloc/release passes and reports heap usage. It is used to shake out
// overruns with -dump-arena.canaries and to compare block sizes.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/pavanmanishd/dumparena"
	"github.com/pavanmanishd/dumparena/codemem"
	"github.com/pavanmanishd/dumparena/heap"
)

type config struct {
	Arena   dumparena.Config
	Heap    heap.Config
	CodeMem codemem.Config

	Workers      int
	Passes       int
	Depth        int
	AllocsPerLvl int
	MaxAlloc     int
	CodePerPass  int
	CacheBlocks  bool
	Seed         int64
}

func (c *config) registerFlags(f *flag.FlagSet) {
	c.Arena.RegisterFlags(f)
	c.Heap.RegisterFlagsWithPrefix("heap.", f)
	c.CodeMem.RegisterFlagsWithPrefix("code-memory.", f)

	f.IntVar(&c.Workers, "workers", 4, "Number of concurrent workers, each with its own arena.")
	f.IntVar(&c.Passes, "passes", 1000, "Number of top level passes per worker.")
	f.IntVar(&c.Depth, "depth", 3, "Nesting depth of marks within a pass.")
	f.IntVar(&c.AllocsPerLvl, "allocs-per-level", 32, "Allocations made at every nesting level.")
	f.IntVar(&c.MaxAlloc, "max-alloc", 4096, "Maximum size in bytes of a single allocation.")
	f.IntVar(&c.CodePerPass, "code-per-pass", 256, "Bytes of code memory requested per pass. 0 disables.")
	f.BoolVar(&c.CacheBlocks, "cache-blocks", true, "Keep recently freed arena blocks in an LRU instead of returning them to the Go heap.")
	f.Int64Var(&c.Seed, "seed", 1, "Random seed.")
}

func (c *config) validate() error {
	if err := c.Arena.Validate(); err != nil {
		return errors.Wrap(err, "invalid arena config")
	}
	if err := c.CodeMem.Validate(); err != nil {
		return errors.Wrap(err, "invalid code memory config")
	}
	if c.Workers <= 0 || c.MaxAlloc <= 0 {
		return errors.New("workers and max-alloc must be positive")
	}
	return nil
}

func main() {
	var cfg config
	cfg.registerFlags(flag.CommandLine)
	flag.Parse()

	logger := level.NewFilter(log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)), level.AllowInfo())
	if err := cfg.validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	var backend heap.Allocator = heap.GoAllocator{}
	if cfg.CacheBlocks {
		backend = heap.NewCachingAllocator(backend, 0, 0)
	}
	reg := prometheus.NewRegistry()
	h := heap.NewChecked(cfg.Heap, backend, logger, reg)
	set := dumparena.NewSet(cfg.Arena, h)
	code := codemem.NewPool(cfg.CodeMem, h, reg)

	level.Info(logger).Log(
		"msg", "starting",
		"workers", cfg.Workers,
		"block_size", humanize.IBytes(uint64(cfg.Arena.BlockSize)),
		"canaries", cfg.Arena.Canaries,
		"heap_fallback", cfg.Arena.HeapFallback,
	)

	var g errgroup.Group
	for id := 0; id < cfg.Workers; id++ {
		id := id
		g.Go(func() error {
			w := worker{
				arena: set.Get(id),
				code:  code,
				cfg:   &cfg,
				rnd:   rand.New(rand.NewSource(cfg.Seed + int64(id))),
			}
			for p := 0; p < cfg.Passes; p++ {
				if err := w.pass(cfg.Depth); err != nil {
					return errors.Wrapf(err, "worker %d pass %d", id, p)
				}
			}
			set.Retire(id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		level.Error(logger).Log("msg", "stress run failed", "err", err)
		os.Exit(1)
	}

	level.Info(logger).Log(
		"msg", "done",
		"heap_in_use", humanize.IBytes(uint64(h.Metrics().InUse())),
		"code_regions", code.Regions(),
	)
	fmt.Println("ok")
}

type worker struct {
	arena dumparena.Allocator
	code  *codemem.Pool
	cfg   *config
	rnd   *rand.Rand
}

// pass allocates a level of scratch data, recurses and checks that the level
// survived untouched before releasing it.
func (w *worker) pass(depth int) error {
	mark := w.arena.Size()

	bufs := make([][]byte, 0, w.cfg.AllocsPerLvl)
	for i := 0; i < w.cfg.AllocsPerLvl; i++ {
		b := w.arena.Alloc(1 + w.rnd.Intn(w.cfg.MaxAlloc))
		for j := range b {
			if b[j] != 0 {
				return errors.Errorf("fresh allocation of %d bytes is dirty at %d", len(b), j)
			}
			b[j] = byte(depth)
		}
		bufs = append(bufs, b)
	}
	if w.rnd.Intn(4) == 0 && len(bufs) > 0 {
		last := len(bufs) - 1
		bufs[last] = w.arena.Realloc(bufs[last], len(bufs[last])*2)[:len(bufs[last])]
	}

	if depth > 0 {
		if err := w.pass(depth - 1); err != nil {
			return err
		}
	} else if w.cfg.CodePerPass > 0 {
		w.code.Alloc(w.cfg.CodePerPass)
	}

	for _, b := range bufs {
		for j, v := range b {
			if v != byte(depth) {
				return errors.Errorf("allocation of %d bytes at depth %d overwritten at %d", len(b), depth, j)
			}
		}
	}

	w.arena.Release(mark)
	if w.arena.Size() != mark {
		return errors.Errorf("size %d after release to %d", w.arena.Size(), mark)
	}
	return nil
}

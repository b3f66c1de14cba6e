// Package codemem allocates memory for generated machine code.
//
// Code memory is carved out of large regions obtained from the checked heap
// allocator and is never given back. Unlike dump arenas a Pool is shared by all
// workers, so carving happens under a single lock.
package codemem

import (
	"flag"
	"fmt"
	"sync"
	"unsafe"

	"github.com/Jille/easymutex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/pavanmanishd/dumparena/heap"
)

// DefaultRegionSize is the size of a code memory region (128 KiB). It is
// tuned independently from the dump arena block size.
const DefaultRegionSize = 128 << 10

const ptrAlign = int(unsafe.Sizeof(uintptr(0)))

// Config sizes the regions of a Pool.
type Config struct {
	RegionSize int `yaml:"region_size"`
}

func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.RegionSize, prefix+"region-size", DefaultRegionSize, "Size in bytes of a code memory region requested from the heap.")
}

func (c Config) Validate() error {
	if c.RegionSize <= 0 {
		return fmt.Errorf("region-size must be positive, got: %d", c.RegionSize)
	}
	return nil
}

// Pool hands out pointer-aligned slices of code memory.
type Pool struct {
	heap       *heap.Checked
	regionSize int

	mtx     sync.Mutex
	regions [][]byte // every region ever obtained; the last one is carved from
	used    int      // bytes carved from the last region

	allocated atomic.Int64 // bytes handed out, including padding

	regionsTotal prometheus.Counter
	bytesTotal   prometheus.Counter
}

// NewPool creates an empty Pool. A nil h selects heap.Default().
func NewPool(cfg Config, h *heap.Checked, reg prometheus.Registerer) *Pool {
	if h == nil {
		h = heap.Default()
	}
	if cfg.RegionSize <= 0 {
		cfg.RegionSize = DefaultRegionSize
	}
	return &Pool{
		heap:       h,
		regionSize: cfg.RegionSize,
		regionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dumparena_codemem_regions_total",
			Help: "Total number of code memory regions obtained from the heap.",
		}),
		bytesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dumparena_codemem_allocated_bytes_total",
			Help: "Total bytes of code memory handed out, including alignment padding.",
		}),
	}
}

// Alloc returns size zeroed bytes of code memory. The memory lives as long
// as the Pool. Returns nil if size <= 0.
func (p *Pool) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	padded := (size + ptrAlign - 1) &^ (ptrAlign - 1)

	em := easymutex.LockMutex(&p.mtx)
	defer em.Unlock()

	var grown bool
	if len(p.regions) == 0 || p.used+padded > len(p.regions[len(p.regions)-1]) {
		n := ((max(padded, p.regionSize) + p.regionSize - 1) / p.regionSize) * p.regionSize
		p.regions = append(p.regions, p.heap.Alloc(n))
		p.used = 0
		grown = true
	}
	region := p.regions[len(p.regions)-1]
	b := region[p.used : p.used+size : p.used+size]
	p.used += padded
	em.Unlock()

	if grown {
		p.regionsTotal.Inc()
	}
	p.allocated.Add(int64(padded))
	p.bytesTotal.Add(float64(padded))
	return b
}

// Allocated returns the bytes handed out so far, including alignment padding.
// It does not take the pool lock.
func (p *Pool) Allocated() int64 {
	return p.allocated.Load()
}

// Regions returns the number of regions obtained so far.
func (p *Pool) Regions() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.regions)
}

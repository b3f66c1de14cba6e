package dumparena

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/pavanmanishd/dumparena/heap"
)

// Set hands out one dump allocator per worker. Allocators are created lazily
// on first use and are owned by their worker from then on: only the lookup
// is synchronized, the allocators themselves are not.
type Set struct {
	cfg    Config
	heap   *heap.Checked
	gauges blockGauges

	mu           sync.Mutex
	arenas       map[int]Allocator
	defaultArena Allocator
}

var _ prometheus.Collector = &Set{}

// NewSet creates a Set whose allocators are built by cfg on h.
func NewSet(cfg Config, h *heap.Checked) *Set {
	if h == nil {
		h = heap.Default()
	}
	return &Set{cfg: cfg, heap: h, arenas: map[int]Allocator{}}
}

// Get returns the allocator of worker id, creating it if needed.
// The caller must be the only goroutine acting as worker id.
func (s *Set) Get(id int) Allocator {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.arenas[id]
	if !ok {
		a = s.cfg.newAllocator(s.heap, &s.gauges)
		s.arenas[id] = a
	}
	return a
}

// Default returns the process-wide allocator for hosts that run a single
// worker. It is distinct from every allocator returned by Get.
func (s *Set) Default() Allocator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defaultArena == nil {
		s.defaultArena = s.cfg.newAllocator(s.heap, &s.gauges)
	}
	return s.defaultArena
}

// Retire releases the allocator of worker id back to mark 0, returning its
// blocks to the heap, and forgets it. The worker must have stopped using it.
func (s *Set) Retire(id int) {
	s.mu.Lock()
	a, ok := s.arenas[id]
	delete(s.arenas, id)
	s.mu.Unlock()
	if ok {
		a.Release(0)
	}
}

// Len returns the number of worker allocators created and not retired.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.arenas)
}

// Stats sums the statistics of every live allocator, the default one
// included. Workers must not be allocating while Stats runs.
func (s *Set) Stats() ArenaStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := ArenaStats{BlockSize: s.cfg.BlockSize}
	add := func(a Allocator) {
		st := a.Stats()
		total.UsedSize += st.UsedSize
		total.AllocatedSize += st.AllocatedSize
		total.NumBlocks += st.NumBlocks
	}
	for _, a := range s.arenas {
		add(a)
	}
	if s.defaultArena != nil {
		add(s.defaultArena)
	}
	if total.AllocatedSize > 0 {
		total.Utilization = float64(total.UsedSize) / float64(total.AllocatedSize)
	}
	return total
}

var (
	setWorkersDesc = prometheus.NewDesc(
		"dumparena_set_workers",
		"Number of worker dump allocators created and not retired.",
		nil, nil,
	)
	setBlocksDesc = prometheus.NewDesc(
		"dumparena_set_blocks",
		"Number of blocks backing the dump arenas of the set.",
		nil, nil,
	)
	setAllocatedDesc = prometheus.NewDesc(
		"dumparena_set_allocated_bytes",
		"Total capacity of the blocks backing the dump arenas of the set.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (s *Set) Describe(descs chan<- *prometheus.Desc) {
	descs <- setWorkersDesc
	descs <- setBlocksDesc
	descs <- setAllocatedDesc
}

// Collect implements prometheus.Collector. It is safe to call while workers
// allocate: block accounting is kept atomically as blocks come and go.
func (s *Set) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(setWorkersDesc, prometheus.GaugeValue, float64(s.Len()))
	metrics <- prometheus.MustNewConstMetric(setBlocksDesc, prometheus.GaugeValue, float64(s.gauges.blocks.Load()))
	metrics <- prometheus.MustNewConstMetric(setAllocatedDesc, prometheus.GaugeValue, float64(s.gauges.allocated.Load()))
}

// blockGauges counts the blocks of all arenas sharing it.
type blockGauges struct {
	blocks    atomic.Int64
	allocated atomic.Int64
}

func (g *blockGauges) blockAdded(capacity int) {
	g.blocks.Inc()
	g.allocated.Add(int64(capacity))
}

func (g *blockGauges) blockRemoved(capacity int) {
	g.blocks.Dec()
	g.allocated.Sub(int64(capacity))
}

// Package heap implements the checked heap allocator backing dump arenas.
//
// Checked never returns nil for a non-empty request: running out of memory,
// freeing a nil pointer with a size or asking for a negative size terminates
// the process through the fatal package.
package heap

import (
	"flag"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pavanmanishd/dumparena/internal/fatal"
)

// PoisonByte overwrites memory that was freed or cut off by a shrinking realloc.
const PoisonByte = 0xa5

type Config struct {
	Poison bool `yaml:"poison"`
}

func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&c.Poison, prefix+"poison", false, "Overwrite freed and truncated heap memory with a poison pattern so stale reads are recognizable.")
}

// Checked wraps an Allocator with abort-on-failure semantics, optional
// poisoning and usage accounting. It is safe for concurrent use if the backend is.
type Checked struct {
	backend Allocator
	poison  bool
	logger  log.Logger
	metrics *Metrics
}

// NewChecked returns a Checked allocator. A nil backend selects GoAllocator,
// a nil logger discards logs and a nil registerer keeps metrics unregistered.
func NewChecked(cfg Config, backend Allocator, logger log.Logger, reg prometheus.Registerer) *Checked {
	if backend == nil {
		backend = GoAllocator{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Checked{
		backend: backend,
		poison:  cfg.Poison,
		logger:  logger,
		metrics: NewMetrics(reg),
	}
}

var (
	defaultOnce sync.Once
	defaultHeap *Checked
)

// Default returns a process-wide Checked allocator on top of the Go heap.
func Default() *Checked {
	defaultOnce.Do(func() {
		defaultHeap = NewChecked(Config{}, GoAllocator{}, nil, nil)
	})
	return defaultHeap
}

// Metrics returns the usage accounting of h.
func (h *Checked) Metrics() *Metrics {
	return h.metrics
}

// checkedAlloc returns size zeroed bytes. A zero size yields a valid empty slice.
func (h *Checked) checkedAlloc(size int) []byte {
	if size < 0 {
		fatal.Fatalf(fatal.ErrInvalidSize, "heap allocation of %d bytes", size)
	}
	b := h.backend.Alloc(size)
	if b == nil {
		if size > 0 {
			fatal.Fatal(
				fatal.ErrOutOfMemory,
				"requested", size,
				"requested_human", humanize.IBytes(uint64(size)),
				"in_use", humanize.IBytes(uint64(h.metrics.InUse())),
			)
		}
		b = []byte{}
	}
	h.metrics.alloc(size)
	return b
}

// Alloc returns size zeroed bytes, or nil if size is zero.
func (h *Checked) Alloc(size int) []byte {
	if size == 0 {
		return nil
	}
	return h.checkedAlloc(size)
}

// Realloc resizes b, which holds oldSize bytes obtained from h, to newSize
// bytes. The returned slice may not share memory with b.
func (h *Checked) Realloc(b []byte, oldSize, newSize int) []byte {
	if b == nil && oldSize != 0 {
		level.Error(h.logger).Log("msg", "realloc of nil pointer", "old_size", oldSize, "new_size", newSize)
		fatal.Fatalf(fatal.ErrNilPointer, "realloc of nil pointer holding %d bytes", oldSize)
	}
	if oldSize < 0 || newSize < 0 {
		fatal.Fatalf(fatal.ErrInvalidSize, "realloc from %d to %d bytes", oldSize, newSize)
	}
	if newSize == 0 {
		h.Free(b, oldSize)
		return nil
	}
	b = b[:oldSize]

	if h.poison && newSize < oldSize {
		poison(b[newSize:])
	}

	var nb []byte
	if r, ok := h.backend.(Reallocator); ok && b != nil {
		nb = r.Realloc(b, newSize)
		if nb == nil {
			fatal.Fatal(
				fatal.ErrOutOfMemory,
				"requested", newSize,
				"requested_human", humanize.IBytes(uint64(newSize)),
				"in_use", humanize.IBytes(uint64(h.metrics.InUse())),
			)
		}
		h.metrics.resize(oldSize, newSize)
	} else {
		nb = h.checkedAlloc(newSize)
		copy(nb, b)
		if b != nil {
			if h.poison {
				poison(b)
			}
			h.backend.Free(b)
			h.metrics.free(oldSize)
		}
	}

	if h.poison && newSize > oldSize {
		poison(nb[oldSize:])
	}
	return nb
}

// Free returns b, which holds size bytes, to the backend.
// A nil b is only accepted together with a zero size.
func (h *Checked) Free(b []byte, size int) {
	if b == nil {
		if size == 0 {
			return
		}
		level.Error(h.logger).Log("msg", "free of nil pointer", "size", size)
		fatal.Fatalf(fatal.ErrNilPointer, "free of nil pointer holding %d bytes", size)
	}
	b = b[:size]
	if h.poison {
		poison(b)
	}
	h.backend.Free(b)
	h.metrics.free(size)
}

func poison(b []byte) {
	for i := range b {
		b[i] = PoisonByte
	}
}

package dumparena

import (
	"flag"
	"fmt"

	"github.com/pavanmanishd/dumparena/heap"
)

// Config selects and sizes the dump allocator of a worker.
type Config struct {
	BlockSize    int  `yaml:"block_size"`
	GrowthUnit   int  `yaml:"growth_unit"`
	Canaries     bool `yaml:"canaries"`
	HeapFallback bool `yaml:"heap_fallback"`
}

// RegisterFlags registers the flags under the "dump-arena." prefix.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.RegisterFlagsWithPrefix("dump-arena.", f)
}

// RegisterFlagsWithPrefix registers the flags, each name prefixed with prefix.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.BlockSize, prefix+"block-size", DefaultBlockSize, "Minimum capacity in bytes of a block added to a dump arena.")
	f.IntVar(&c.GrowthUnit, prefix+"growth-unit", DefaultGrowthUnit, "Block capacities are rounded up to a multiple of this many bytes.")
	f.BoolVar(&c.Canaries, prefix+"canaries", defaultCanaries, "Surround every dump allocation with guard bytes, validate them on release and poison released memory.")
	f.BoolVar(&c.HeapFallback, prefix+"heap-fallback", defaultHeapFallback, "Forward every dump allocation to the heap allocator and never release. Debugging aid only.")
}

// Validate checks the sizes and rejects combining canaries with heap fallback.
func (c Config) Validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("block-size must be positive, got: %d", c.BlockSize)
	}
	if c.GrowthUnit <= 0 {
		return fmt.Errorf("growth-unit must be positive, got: %d", c.GrowthUnit)
	}
	if c.GrowthUnit%ptrAlign != 0 {
		return fmt.Errorf("growth-unit must be a multiple of %d, got: %d", ptrAlign, c.GrowthUnit)
	}
	if c.Canaries && c.HeapFallback {
		return fmt.Errorf("canaries and heap-fallback are mutually exclusive")
	}
	return nil
}

// New returns a fresh dump allocator drawing from h.
func (c Config) New(h *heap.Checked) Allocator {
	return c.newAllocator(h, nil)
}

// newAllocator is New with block accounting reported to g, if not nil.
func (c Config) newAllocator(h *heap.Checked, g *blockGauges) Allocator {
	switch {
	case c.HeapFallback:
		return NewHeapFallback(h)
	case c.Canaries:
		ca := NewCheckedArena(h, c.BlockSize, c.GrowthUnit)
		ca.arena.gauges = g
		return ca
	default:
		a := NewArena(h, c.BlockSize, c.GrowthUnit)
		a.gauges = g
		return a
	}
}

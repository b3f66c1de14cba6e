package heap

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCachedSizes is the number of distinct buffer lengths a CachingAllocator remembers.
	DefaultCachedSizes = 16
	// DefaultCachedPerSize is the number of idle buffers kept for one length.
	DefaultCachedPerSize = 4
)

// CachingAllocator keeps recently freed buffers around, keyed by their exact
// length, and hands them out again before asking upstream. Arena blocks come in
// few distinct capacities, so a release followed by an allocation that crosses
// the same block boundary does not go back to the system allocator.
//
// When a length falls out of the LRU its buffers are freed upstream.
type CachingAllocator struct {
	upstream Allocator
	perSize  int

	mtx   sync.Mutex
	cache *lru.Cache[int, [][]byte]
}

// NewCachingAllocator wraps upstream. Non-positive sizes select the defaults.
func NewCachingAllocator(upstream Allocator, sizes, perSize int) *CachingAllocator {
	if sizes <= 0 {
		sizes = DefaultCachedSizes
	}
	if perSize <= 0 {
		perSize = DefaultCachedPerSize
	}
	c := &CachingAllocator{upstream: upstream, perSize: perSize}
	// NewWithEvict only fails for non-positive sizes.
	c.cache, _ = lru.NewWithEvict[int, [][]byte](sizes, c.onEvicted)
	return c
}

func (c *CachingAllocator) onEvicted(_ int, bufs [][]byte) {
	for _, b := range bufs {
		c.upstream.Free(b)
	}
}

func (c *CachingAllocator) Alloc(n int) []byte {
	c.mtx.Lock()
	if bufs, ok := c.cache.Get(n); ok && len(bufs) > 0 {
		last := len(bufs) - 1
		b := bufs[last]
		bufs[last] = nil
		c.cache.Add(n, bufs[:last])
		c.mtx.Unlock()
		clear(b)
		return b
	}
	c.mtx.Unlock()
	return c.upstream.Alloc(n)
}

func (c *CachingAllocator) Free(b []byte) {
	c.mtx.Lock()
	bufs, _ := c.cache.Get(len(b))
	if len(bufs) < c.perSize {
		c.cache.Add(len(b), append(bufs, b))
		c.mtx.Unlock()
		return
	}
	c.mtx.Unlock()
	c.upstream.Free(b)
}

// Cached returns the number of idle buffers held.
func (c *CachingAllocator) Cached() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n := 0
	for _, bufs := range c.cache.Values() {
		n += len(bufs)
	}
	return n
}

// Purge frees every idle buffer upstream.
func (c *CachingAllocator) Purge() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.cache.Purge()
}

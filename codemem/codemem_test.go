package codemem

import (
	"flag"
	"sync"
	"testing"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pavanmanishd/dumparena/heap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolAlloc(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	p := NewPool(Config{RegionSize: 1024}, nil, reg)

	require.Nil(t, p.Alloc(0))
	require.Nil(t, p.Alloc(-5))
	require.Equal(t, 0, p.Regions())

	a := p.Alloc(10)
	require.Len(t, a, 10)
	require.Equal(t, 10, cap(a))
	b := p.Alloc(100)
	require.Equal(t, 1, p.Regions())

	addrA := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	addrB := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	require.Zero(t, addrB%uintptr(ptrAlign))
	require.Equal(t, addrA+16, addrB)

	// Does not fit the rest of the first region.
	c := p.Alloc(1000)
	require.Len(t, c, 1000)
	require.Equal(t, 2, p.Regions())

	// Larger than a region: the region is sized to fit.
	d := p.Alloc(5000)
	require.Len(t, d, 5000)
	require.Equal(t, 3, p.Regions())

	require.Equal(t, 3.0, testutil.ToFloat64(p.regionsTotal))
	require.Equal(t, float64(16+104+1000+5000), testutil.ToFloat64(p.bytesTotal))
	require.EqualValues(t, 16+104+1000+5000, p.Allocated())
}

func TestPoolConcurrentAllocDoesNotOverlap(t *testing.T) {
	h := heap.NewChecked(heap.Config{}, nil, nil, nil)
	p := NewPool(Config{RegionSize: 4096}, h, nil)

	const workers, perWorker = 8, 200
	results := make([][][]byte, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				b := p.Alloc(24)
				for j := range b {
					b[j] = byte(w)
				}
				results[w] = append(results[w], b)
			}
		}(w)
	}
	wg.Wait()

	for w, bufs := range results {
		for _, b := range bufs {
			for _, v := range b {
				require.Equal(t, byte(w), v)
			}
		}
	}
	require.EqualValues(t, workers*perWorker*24, p.Allocated())
}

func TestConfig(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlagsWithPrefix("code-memory.", fs)
	require.Equal(t, DefaultRegionSize, cfg.RegionSize)
	require.NoError(t, cfg.Validate())

	require.NoError(t, fs.Parse([]string{"-code-memory.region-size=0"}))
	require.Error(t, cfg.Validate())
}

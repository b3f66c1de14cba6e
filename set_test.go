package dumparena

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{BlockSize: 1024, GrowthUnit: 1024}
}

func TestSetGet(t *testing.T) {
	s := NewSet(testConfig(), newTestHeap())

	a := s.Get(1)
	require.Same(t, a, s.Get(1))
	require.NotSame(t, a, s.Get(2))
	require.Equal(t, 2, s.Len())

	require.Same(t, s.Default(), s.Default())
	require.NotSame(t, s.Default(), s.Get(0))
	require.Equal(t, 3, s.Len())
}

func TestSetRetire(t *testing.T) {
	h := newTestHeap()
	s := NewSet(testConfig(), h)

	a := s.Get(7)
	a.Alloc(5000)
	require.NotZero(t, h.Metrics().InUse())

	s.Retire(7)
	require.Zero(t, h.Metrics().InUse())
	require.Equal(t, 0, s.Len())
	require.NotSame(t, a, s.Get(7))

	// Retiring an unknown worker is a no-op.
	s.Retire(42)
}

func TestSetWorkersAreIndependent(t *testing.T) {
	h := newTestHeap()
	s := NewSet(Config{BlockSize: 4096, GrowthUnit: 4096, Canaries: true}, h)

	const workers, passes = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a := s.Get(id)
			for p := 0; p < passes; p++ {
				mark := a.Size()
				bufs := make([][]byte, 0, 20)
				for i := 0; i < 20; i++ {
					b := a.Alloc(64 + i*100)
					for j := range b {
						b[j] = byte(id)
					}
					bufs = append(bufs, b)
				}
				for _, b := range bufs {
					for _, v := range b {
						if v != byte(id) {
							t.Errorf("worker %d saw foreign byte %d", id, v)
							return
						}
					}
				}
				a.Release(mark)
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		require.Equal(t, 0, s.Get(w).Size())
	}
	require.Zero(t, h.Metrics().InUse())
}

func TestSetStats(t *testing.T) {
	s := NewSet(testConfig(), newTestHeap())
	require.Equal(t, ArenaStats{BlockSize: 1024}, s.Stats())

	s.Get(1).Alloc(100)
	s.Get(2).Alloc(2000)
	s.Default().Alloc(8)

	st := s.Stats()
	require.Equal(t, 104+2000+8, st.UsedSize)
	require.Equal(t, 1024+2048+1024, st.AllocatedSize)
	require.Equal(t, 3, st.NumBlocks)
	require.Equal(t, 1024, st.BlockSize)
	require.InDelta(t, float64(2112)/4096, st.Utilization, 1e-9)

	s.Retire(2)
	st = s.Stats()
	require.Equal(t, 2, st.NumBlocks)
	require.Equal(t, 2048, st.AllocatedSize)
}

func TestSetCollector(t *testing.T) {
	s := NewSet(testConfig(), newTestHeap())
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(s)

	require.Equal(t, 3, testutil.CollectAndCount(s))

	s.Get(1).Alloc(100)
	s.Get(2).Alloc(2000)
	s.Get(2).Alloc(2000)

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
		# HELP dumparena_set_allocated_bytes Total capacity of the blocks backing the dump arenas of the set.
		# TYPE dumparena_set_allocated_bytes gauge
		dumparena_set_allocated_bytes 5120
		# HELP dumparena_set_blocks Number of blocks backing the dump arenas of the set.
		# TYPE dumparena_set_blocks gauge
		dumparena_set_blocks 3
		# HELP dumparena_set_workers Number of worker dump allocators created and not retired.
		# TYPE dumparena_set_workers gauge
		dumparena_set_workers 2
	`)))

	s.Retire(1)
	s.Retire(2)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
		# HELP dumparena_set_blocks Number of blocks backing the dump arenas of the set.
		# TYPE dumparena_set_blocks gauge
		dumparena_set_blocks 0
	`), "dumparena_set_blocks"))
}

// BenchmarkSetPerWorker measures arenas handed out per goroutine by a Set
func BenchmarkSetPerWorker(b *testing.B) {
	sizes := []int{32, 128, 512}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("PerWorker_%dB", size), func(b *testing.B) {
			s := NewSet(Config{BlockSize: 2 * 1024 * 1024, GrowthUnit: DefaultGrowthUnit}, nil)
			var ids atomic.Int64

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				id := int(ids.Add(1))
				a := s.Get(id)
				defer s.Retire(id)

				i := 0
				for pb.Next() {
					a.Alloc(size)
					i++
					if i%1000 == 999 {
						a.Release(0)
					}
				}
			})
		})
	}

	// Standard allocation parallel baseline
	b.Run("Builtin_Parallel", func(b *testing.B) {
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				_ = make([]byte, 64)
			}
		})
	})
}

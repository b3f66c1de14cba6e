package heap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

// Metrics accounts for memory handed out by a Checked allocator.
// A nil registerer leaves the collectors unregistered, which makes them plain observers.
type Metrics struct {
	AllocationsTotal prometheus.Counter
	FreesTotal       prometheus.Counter
	InUseBytes       prometheus.Gauge

	inUse atomic.Int64
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		AllocationsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dumparena_heap_allocations_total",
			Help: "Total number of allocations served by the checked heap allocator.",
		}),
		FreesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dumparena_heap_frees_total",
			Help: "Total number of allocations returned to the checked heap allocator.",
		}),
		InUseBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dumparena_heap_in_use_bytes",
			Help: "Bytes currently allocated through the checked heap allocator.",
		}),
	}
}

func (m *Metrics) alloc(n int) {
	m.AllocationsTotal.Inc()
	m.InUseBytes.Set(float64(m.inUse.Add(int64(n))))
}

func (m *Metrics) resize(oldSize, newSize int) {
	m.InUseBytes.Set(float64(m.inUse.Add(int64(newSize - oldSize))))
}

func (m *Metrics) free(n int) {
	m.FreesTotal.Inc()
	m.InUseBytes.Set(float64(m.inUse.Sub(int64(n))))
}

// InUse returns the number of bytes currently allocated.
func (m *Metrics) InUse() int64 {
	return m.inUse.Load()
}

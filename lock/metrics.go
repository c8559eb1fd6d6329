package lock

import "github.com/prometheus/client_golang/prometheus"

const (
	resultAcquired = "acquired"
	resultBusy     = "busy"
	resultError    = "error"
)

// metrics is nil safe; a registry without WithMetrics records nothing.
type metrics struct {
	acquireTotal       *prometheus.CounterVec
	releaseTotal       prometheus.Counter
	lostOwnershipTotal prometheus.Counter
	evictionsTotal     prometheus.Counter
	cacheEntries       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		acquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaselock_acquire_total",
				Help: "Total remote acquire attempts by result",
			},
			[]string{"result"},
		),
		releaseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leaselock_release_total",
			Help: "Total number of released leases",
		}),
		lostOwnershipTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leaselock_lost_ownership_total",
			Help: "Total number of leases found reclaimed by another owner",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leaselock_evictions_total",
			Help: "Total number of handles evicted from the registry cache",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leaselock_cache_entries",
			Help: "Current number of cached lock handles",
		}),
	}
	reg.MustRegister(
		m.acquireTotal,
		m.releaseTotal,
		m.lostOwnershipTotal,
		m.evictionsTotal,
		m.cacheEntries,
	)
	return m
}

func (m *metrics) acquire(result string) {
	if m != nil {
		m.acquireTotal.WithLabelValues(result).Inc()
	}
}

func (m *metrics) release() {
	if m != nil {
		m.releaseTotal.Inc()
	}
}

func (m *metrics) lostOwnership() {
	if m != nil {
		m.lostOwnershipTotal.Inc()
	}
}

func (m *metrics) evicted() {
	if m != nil {
		m.evictionsTotal.Inc()
	}
}

func (m *metrics) entries(n int) {
	if m != nil {
		m.cacheEntries.Set(float64(n))
	}
}

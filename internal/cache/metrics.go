package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Eviction reasons used as the "reason" label.
const (
	ReasonCount     = "count"
	ReasonSize      = "size"
	ReasonRetention = "retention"
)

// Metrics holds all Prometheus metrics for the cache engine.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Writes    *prometheus.CounterVec
	Evictions *prometheus.CounterVec
	Entries   prometheus.Gauge
	Bytes     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_hits_total",
		Help: "Lookups and content-keyed writes served from an existing entry",
	})

	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_misses_total",
		Help: "Lookups that found no live entry",
	})

	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_cache_writes_total",
		Help: "Payloads written to the cache directory",
	}, []string{"mode"})

	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_cache_evictions_total",
		Help: "Entries removed by a policy pass",
	}, []string{"reason"})

	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asset_cache_entries",
		Help: "Entries currently indexed",
	})

	bytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asset_cache_bytes",
		Help: "Total bytes of indexed entries",
	})

	reg.MustRegister(hits, misses, writes, evictions, entries, bytes)

	return &Metrics{
		Hits:      hits,
		Misses:    misses,
		Writes:    writes,
		Evictions: evictions,
		Entries:   entries,
		Bytes:     bytes,
	}
}

func (m *Metrics) observe(idx *cacheIndex) {
	m.Entries.Set(float64(idx.len()))
	m.Bytes.Set(float64(idx.size()))
}

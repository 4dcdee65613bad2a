// Package prometheus implements metrics.CacheMetrics on top of
// github.com/prometheus/client_golang, registering itself with
// pkg/metrics on import so callers only need a blank import to opt in.
package prometheus

import (
	"time"

	"github.com/marmos91/blockcache/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func init() {
	metrics.RegisterConstructor(New)
}

type cacheMetrics struct {
	storeOps       prometheus.Counter
	storeDuration  prometheus.Histogram
	storeBytes     prometheus.Histogram
	retrieveOps    prometheus.Counter
	retrieveDur    prometheus.Histogram
	retrieveBytes  prometheus.Histogram
	removeOps      prometheus.Counter
	removeDuration prometheus.Histogram
	blockCount     prometheus.Gauge
	physicalBytes  prometheus.Gauge
	logicalBytes   prometheus.Gauge
}

var durationBuckets = []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000}
var byteBuckets = []float64{4096, 32768, 131072, 524288, 1048576, 4194304, 16777216}

// New constructs a cacheMetrics registered against the default
// Prometheus registerer. It is installed as pkg/metrics's backing
// constructor by this package's init.
func New() metrics.CacheMetrics {
	return &cacheMetrics{
		storeOps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "blockcache_store_operations_total",
			Help: "Total number of store_file operations.",
		}),
		storeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockcache_store_duration_milliseconds",
			Help:    "Duration of store_file operations in milliseconds.",
			Buckets: durationBuckets,
		}),
		storeBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockcache_store_bytes",
			Help:    "Distribution of stored file sizes in bytes.",
			Buckets: byteBuckets,
		}),
		retrieveOps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "blockcache_retrieve_operations_total",
			Help: "Total number of retrieve_file operations.",
		}),
		retrieveDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockcache_retrieve_duration_milliseconds",
			Help:    "Duration of retrieve_file operations in milliseconds.",
			Buckets: durationBuckets,
		}),
		retrieveBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockcache_retrieve_bytes",
			Help:    "Distribution of retrieved file sizes in bytes.",
			Buckets: byteBuckets,
		}),
		removeOps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "blockcache_remove_operations_total",
			Help: "Total number of remove_file operations.",
		}),
		removeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockcache_remove_duration_milliseconds",
			Help:    "Duration of remove_file operations in milliseconds.",
			Buckets: durationBuckets,
		}),
		blockCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "blockcache_block_count",
			Help: "Current number of distinct blocks held by the index.",
		}),
		physicalBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "blockcache_physical_bytes",
			Help: "Current physical bytes occupied by unique blocks on disk.",
		}),
		logicalBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "blockcache_logical_bytes",
			Help: "Current logical bytes across all manifests.",
		}),
	}
}

func (m *cacheMetrics) ObserveStore(bytes int64, d time.Duration) {
	m.storeOps.Inc()
	m.storeDuration.Observe(float64(d.Microseconds()) / 1000.0)
	m.storeBytes.Observe(float64(bytes))
}

func (m *cacheMetrics) ObserveRetrieve(bytes int64, d time.Duration) {
	m.retrieveOps.Inc()
	m.retrieveDur.Observe(float64(d.Microseconds()) / 1000.0)
	m.retrieveBytes.Observe(float64(bytes))
}

func (m *cacheMetrics) ObserveRemove(d time.Duration) {
	m.removeOps.Inc()
	m.removeDuration.Observe(float64(d.Microseconds()) / 1000.0)
}

func (m *cacheMetrics) RecordBlockCount(count uint64) {
	m.blockCount.Set(float64(count))
}

func (m *cacheMetrics) RecordPhysicalBytes(bytes uint64) {
	m.physicalBytes.Set(float64(bytes))
}

func (m *cacheMetrics) RecordLogicalBytes(bytes uint64) {
	m.logicalBytes.Set(float64(bytes))
}

var _ metrics.CacheMetrics = (*cacheMetrics)(nil)

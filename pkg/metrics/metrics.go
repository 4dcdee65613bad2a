// Package metrics defines the cache engine's metrics surface as a
// nil-safe interface. A nil CacheMetrics is valid everywhere the
// interface is accepted and every package-level helper below treats it
// as "metrics disabled" rather than panicking, so callers that never
// enable metrics pay zero overhead.
package metrics

import "time"

// CacheMetrics is implemented by metrics backends (currently Prometheus,
// see pkg/metrics/prometheus) that observe Cache Engine operations.
type CacheMetrics interface {
	ObserveStore(bytes int64, duration time.Duration)
	ObserveRetrieve(bytes int64, duration time.Duration)
	ObserveRemove(duration time.Duration)
	RecordBlockCount(count uint64)
	RecordPhysicalBytes(bytes uint64)
	RecordLogicalBytes(bytes uint64)
}

var enabled bool

// newPrometheusCacheMetrics is supplied by pkg/metrics/prometheus's
// package init via RegisterConstructor. Indirection through a package
// variable avoids metrics depending on prometheus (and prometheus
// depending back on metrics for the interface) forming an import cycle.
var newPrometheusCacheMetrics func() CacheMetrics

// RegisterConstructor is called by pkg/metrics/prometheus's init to
// install its constructor as the implementation behind New.
func RegisterConstructor(constructor func() CacheMetrics) {
	newPrometheusCacheMetrics = constructor
}

// Enable turns on metrics collection for subsequent calls to New. It must
// be called before New for New to return a non-nil implementation.
func Enable() {
	enabled = true
}

// IsEnabled reports whether Enable has been called.
func IsEnabled() bool {
	return enabled
}

// New returns a CacheMetrics backed by whichever implementation
// registered itself, or nil if metrics are disabled or no
// implementation was imported (e.g. pkg/metrics/prometheus was never
// imported by the binary).
func New() CacheMetrics {
	if !enabled || newPrometheusCacheMetrics == nil {
		return nil
	}
	return newPrometheusCacheMetrics()
}

// ObserveStore records a store_file operation. Safe to call with a nil m.
func ObserveStore(m CacheMetrics, bytes int64, d time.Duration) {
	if m != nil {
		m.ObserveStore(bytes, d)
	}
}

// ObserveRetrieve records a retrieve_file operation. Safe to call with a
// nil m.
func ObserveRetrieve(m CacheMetrics, bytes int64, d time.Duration) {
	if m != nil {
		m.ObserveRetrieve(bytes, d)
	}
}

// ObserveRemove records a remove_file operation. Safe to call with a nil m.
func ObserveRemove(m CacheMetrics, d time.Duration) {
	if m != nil {
		m.ObserveRemove(d)
	}
}

// RecordBlockCount updates the current distinct-block gauge. Safe to call
// with a nil m.
func RecordBlockCount(m CacheMetrics, count uint64) {
	if m != nil {
		m.RecordBlockCount(count)
	}
}

// RecordPhysicalBytes updates the physical-bytes-on-disk gauge. Safe to
// call with a nil m.
func RecordPhysicalBytes(m CacheMetrics, bytes uint64) {
	if m != nil {
		m.RecordPhysicalBytes(bytes)
	}
}

// RecordLogicalBytes updates the logical-bytes-across-manifests gauge.
// Safe to call with a nil m.
func RecordLogicalBytes(m CacheMetrics, bytes uint64) {
	if m != nil {
		m.RecordLogicalBytes(bytes)
	}
}

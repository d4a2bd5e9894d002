// Package metrics exposes Prometheus counters and gauges describing
// the allocation coordinator's behavior: how often profiles allocate
// successfully, how many readers are known and busy, and how often the
// usage-timeout escape hatch had to reclaim a forgotten lock.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is a private Prometheus registry, kept separate from the
// global default so importing this package never surprises another
// part of the process that also registers collectors.
var Registry = prometheus.NewRegistry()

var (
	// AllocationsTotal counts every GetCardResource attempt, labeled
	// by profile, the strategy in effect for it, and whether it
	// succeeded, was refused (nothing free), or errored.
	AllocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cardres_allocations_total",
		Help: "Total number of card resource allocation attempts.",
	}, []string{"profile", "strategy", "result"})

	// PoolAllocationsTotal counts pool-plugin fallback attempts,
	// labeled by plugin and result.
	PoolAllocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cardres_pool_allocations_total",
		Help: "Total number of pool plugin allocation attempts.",
	}, []string{"plugin", "result"})

	// ReadersActive reports the number of readers currently tracked
	// by the service.
	ReadersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cardres_readers_active",
		Help: "Number of readers currently tracked by the coordinator.",
	})

	// ReadersBusy reports the number of readers currently locked by a
	// caller.
	ReadersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cardres_readers_busy",
		Help: "Number of readers currently locked by a caller.",
	})

	// UsageTimeoutReclaimsTotal counts how many times a lock was
	// force-released because its usage timeout elapsed before the
	// holder called release.
	UsageTimeoutReclaimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cardres_usage_timeout_reclaims_total",
		Help: "Total number of locks force-released after their usage timeout elapsed.",
	})
)

func init() {
	Registry.MustRegister(AllocationsTotal, PoolAllocationsTotal, ReadersActive, ReadersBusy, UsageTimeoutReclaimsTotal)
}

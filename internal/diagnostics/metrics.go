// Package diagnostics owns the daemon's observability surface: Prometheus
// metrics and the append-only NDJSON event/metric sink described in §4.1.
// Logging for free-form operator text lives in internal/logging instead.
package diagnostics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every exported metric name.
const namespace = "daemon"

// Collector holds the process-wide metric set. Every SPEC_FULL.md
// component that reports a counter/gauge/histogram does so through the
// collector returned by Global().
type Collector struct {
	RequestDuration prometheus.Histogram
	QueueWait       prometheus.Histogram
	QueueDepth      *prometheus.GaugeVec
	QueueRejects    *prometheus.CounterVec

	WorkerRSSMB prometheus.Gauge

	SessionIsolationBreaks prometheus.Counter

	PoolCacheHit          prometheus.Counter
	PoolCacheMiss         prometheus.Counter
	PoolReconnectAttempt  prometheus.Counter
	PoolReconnectSuccess  prometheus.Counter
	PoolForcedReset       *prometheus.CounterVec
	RuntimePoolOverflow   *prometheus.CounterVec
	RuntimePoolEvictions  *prometheus.CounterVec

	mu        sync.Mutex
	startTime time.Time
}

// NewCollector builds and registers a fresh metric set against reg. Passing
// a non-default registry (e.g. prometheus.NewRegistry()) is how tests avoid
// colliding with the global registerer across package-level test runs.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		startTime: time.Now(),

		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_ms",
			Help:      "Dispatched verb request latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_ms",
			Help:      "Time a request spent queued in a lane before dispatch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000},
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of items queued per lane.",
		}, []string{"lane"}),
		QueueRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejects_total",
			Help:      "Requests rejected at enqueue time, by reason.",
		}, []string{"reason"}),

		WorkerRSSMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_rss_mb",
			Help:      "Resident set size of the worker orchestrator process, in MiB.",
		}),

		SessionIsolationBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_isolation_breaks_total",
			Help:      "Requests rejected because the cached runtime's (sessionId,cdpOrigin) disagreed with the request.",
		}),

		PoolCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_cache_hit",
			Help:      "Runtime pool lease requests satisfied by an existing ready entry.",
		}),
		PoolCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_cache_miss",
			Help:      "Runtime pool lease requests that required a warm.",
		}),
		PoolReconnectAttempt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_reconnect_attempt",
			Help:      "Attempts to reconnect a degraded runtime entry.",
		}),
		PoolReconnectSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_reconnect_success",
			Help:      "Reconnect attempts that returned an entry to ready.",
		}),
		PoolForcedReset: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_forced_reset",
			Help:      "Runtime entries force-closed outside the normal draining path, by reason.",
		}, []string{"reason"}),
		RuntimePoolOverflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runtime_pool_overflow_total",
			Help:      "Lease requests served from an uncached, non-pooled runtime because the pool was saturated.",
		}, []string{"reason"}),
		RuntimePoolEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runtime_pool_evictions_total",
			Help:      "Runtime entries evicted from the pool, by reason.",
		}, []string{"reason"}),
	}
	c.register(reg)
	return c
}

func (c *Collector) register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		c.RequestDuration,
		c.QueueWait,
		c.QueueDepth,
		c.QueueRejects,
		c.WorkerRSSMB,
		c.SessionIsolationBreaks,
		c.PoolCacheHit,
		c.PoolCacheMiss,
		c.PoolReconnectAttempt,
		c.PoolReconnectSuccess,
		c.PoolForcedReset,
		c.RuntimePoolOverflow,
		c.RuntimePoolEvictions,
	)
}

// ObserveRequest records one dispatched request's end-to-end duration.
func (c *Collector) ObserveRequest(d time.Duration) {
	c.RequestDuration.Observe(float64(d.Milliseconds()))
}

// ObserveQueueWait records time spent queued before dispatch or rejection.
func (c *Collector) ObserveQueueWait(d time.Duration) {
	c.QueueWait.Observe(float64(d.Milliseconds()))
}

var (
	globalOnce sync.Once
	global     *Collector
)

// Global returns the process-wide collector, registered against the
// default Prometheus registry on first use.
func Global() *Collector {
	globalOnce.Do(func() {
		global = NewCollector(prometheus.DefaultRegisterer)
	})
	return global
}

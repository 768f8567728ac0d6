package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Batches
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_batches_total",
			Help: "Balance batches by final outcome",
		},
		[]string{"outcome"}, // committed|insufficient_balance|version_inconsistency|invalid|aborted
	)
	BatchAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_batch_attempts_total",
			Help: "Attempts made by the retry controller",
		},
	)
	LockFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_lock_failures_total",
			Help: "Attempts that could not take every user lock",
		},
	)
	CacheStale = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_cache_stale_total",
			Help: "Users whose cached version was behind the store",
		},
	)
	VersionInconsistencies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_version_inconsistencies_total",
			Help: "Users whose cached version was ahead of the store",
		},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_cache_lookups_total",
			Help: "Balance reads by cache result",
		},
		[]string{"result"}, // hit|miss
	)

	// Worker kuyruğu
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)

	initOnce sync.Once
)

// /metrics endpoint'i için handler
var Handler = promhttp.Handler

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal, RequestLatency,
			BatchesTotal, BatchAttempts, LockFailures,
			CacheStale, VersionInconsistencies, CacheLookups,
			WorkerQueueDepth,
		)
	})
}

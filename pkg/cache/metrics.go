package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vigia-recife/vigia-proxy/pkg/metrics"
)

var (
	// CacheHits tracks cache hits by store (memory, redis)
	CacheHits = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses by store
	CacheMisses = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"store"},
	)

	// CacheEntries tracks the number of stored entries, refreshed on Stats
	CacheEntries = promauto.With(metrics.Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigia_cache_entries",
			Help: "Current number of response cache entries",
		},
		[]string{"store"},
	)

	// CacheFlushes tracks full cache flushes
	CacheFlushes = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "vigia_cache_flushes_total",
			Help: "Total number of full response cache flushes",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "flush", "stats"
	)
)

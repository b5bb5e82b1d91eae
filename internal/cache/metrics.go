package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calview",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Reads served from a valid entry without a fetch.",
		},
		[]string{"collection"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calview",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Reads that started a new upstream fetch.",
		},
		[]string{"collection"},
	)

	cacheJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calview",
			Subsystem: "cache",
			Name:      "joins_total",
			Help:      "Reads that attached to a fetch already in flight.",
		},
		[]string{"collection"},
	)

	cacheDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calview",
			Subsystem: "cache",
			Name:      "discarded_total",
			Help:      "Fetch results dropped after supersession or invalidation.",
		},
		[]string{"collection"},
	)

	fetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calview",
			Subsystem: "cache",
			Name:      "fetch_errors_total",
			Help:      "Fetches that failed after all retries.",
		},
		[]string{"collection"},
	)

	fallbackServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calview",
			Subsystem: "cache",
			Name:      "fallback_served_total",
			Help:      "Failed fetches answered from the persisted fallback store.",
		},
		[]string{"collection"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calview",
			Subsystem: "cache",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of upstream fetches including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection"},
	)
)

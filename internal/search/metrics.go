package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	indexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsync_search_entries",
			Help: "Number of entries in the full-text index",
		},
	)

	indexSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_search_skipped_total",
			Help: "Total number of documents not indexed",
		},
		[]string{"reason"},
	)

	queries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_search_queries_total",
			Help: "Total number of full-text queries",
		},
	)

	rebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainsync_search_rebuild_duration_seconds",
			Help:    "Duration of full index rebuilds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func indexEntriesSet(n int) {
	indexEntries.Set(float64(n))
}

func indexSkippedInc(reason string) {
	indexSkipped.WithLabelValues(reason).Inc()
}

func queriesInc() {
	queries.Inc()
}

func rebuildDurationLog(seconds float64) {
	rebuildDuration.Observe(seconds)
}

package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_documents_written_total",
			Help: "Total number of documents upserted per collection",
		},
		[]string{"collection"},
	)

	documentsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_documents_removed_total",
			Help: "Total number of documents removed per collection",
		},
		[]string{"collection"},
	)

	highestSyncedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_highest_synced_block",
			Help: "Highest synced block per collection",
		},
		[]string{"collection"},
	)

	storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainsync_store_operation_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func documentsWrittenAdd(collection string, n int) {
	documentsWritten.WithLabelValues(collection).Add(float64(n))
}

func documentsRemovedAdd(collection string, n int) {
	documentsRemoved.WithLabelValues(collection).Add(float64(n))
}

func highestSyncedBlockSet(collection string, block uint64) {
	highestSyncedBlock.WithLabelValues(collection).Set(float64(block))
}

func storeOpObserve(operation string, start time.Time) {
	storeOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

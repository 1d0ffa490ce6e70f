package listener

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_listener_blocks_delivered_total",
			Help: "Total number of blocks delivered to the block handler",
		},
	)

	blocksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_listener_blocks_skipped_total",
			Help: "Total number of malformed blocks skipped",
		},
		[]string{"reason"},
	)

	headBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsync_listener_head_block",
			Help: "Number of the last block seen by the listener",
		},
	)

	reorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_reorgs_detected_total",
			Help: "Total number of blockchain reorganizations detected",
		},
	)

	reorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainsync_reorg_depth_blocks",
			Help:    "Depth of blockchain reorganizations in blocks",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	reorgLastDetected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsync_reorg_last_detected_timestamp",
			Help: "Unix timestamp of last reorg detection",
		},
	)

	resubscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_listener_resubscriptions_total",
			Help: "Total number of head subscription attempts after the first",
		},
		[]string{"status"},
	)
)

func blockDeliveredLog(number uint64) {
	blocksDelivered.Inc()
	headBlock.Set(float64(number))
}

func blockSkippedInc(reason string) {
	blocksSkipped.WithLabelValues(reason).Inc()
}

func reorgDetectedLog(depth int) {
	reorgsDetected.Inc()
	reorgDepth.Observe(float64(depth))
	reorgLastDetected.Set(float64(time.Now().UTC().Unix()))
}

func resubscribeInc(status string) {
	resubscriptions.WithLabelValues(status).Inc()
}

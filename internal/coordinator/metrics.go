package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var allStates = []State{StateBackfilling, StateLiveTailing, StateRollingBack, StateStopped}

var (
	coordinatorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_coordinator_state",
			Help: "Current coordinator state (1 for the active state)",
		},
		[]string{"state"},
	)

	chunksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_backfill_chunks_total",
			Help: "Total number of backfill chunks applied",
		},
		[]string{"collection"},
	)

	chunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainsync_backfill_chunk_duration_seconds",
			Help:    "Time to fetch, decode and apply a backfill chunk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	liveBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_live_blocks_applied_total",
			Help: "Total number of live blocks applied",
		},
	)

	logsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_logs_skipped_total",
			Help: "Total number of logs skipped because they failed to decode",
		},
		[]string{"collection"},
	)

	rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_rollbacks_total",
			Help: "Total number of block rollbacks",
		},
		[]string{"source"},
	)

	supervisorRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_supervisor_restarts_total",
			Help: "Total number of coordinator restarts",
		},
	)
)

func stateSet(active State) {
	for _, s := range allStates {
		v := 0.0
		if s == active {
			v = 1
		}
		coordinatorState.WithLabelValues(string(s)).Set(v)
	}
}

func chunkProcessedLog(collection string, start time.Time) {
	chunksProcessed.WithLabelValues(collection).Inc()
	chunkDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
}

func liveBlockInc() {
	liveBlocks.Inc()
}

func logsSkippedInc(collection string) {
	logsSkipped.WithLabelValues(collection).Inc()
}

func rollbackInc(source string) {
	rollbacks.WithLabelValues(source).Inc()
}

func supervisorRestartInc() {
	supervisorRestarts.Inc()
}

package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	logsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_logs_fetched_total",
			Help: "Total number of logs fetched from the node",
		},
	)

	rangeSplits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_fetch_range_splits_total",
			Help: "Total number of getLogs ranges narrowed after the node refused them",
		},
	)
)

func logsFetchedAdd(n int) {
	logsFetched.Add(float64(n))
}

func rangeSplitsInc() {
	rangeSplits.Inc()
}

package deadletter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_dead_letters_total",
			Help: "Total number of skipped items recorded",
		},
		[]string{"kind"},
	)

	recordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_dead_letter_failures_total",
			Help: "Total number of skipped items that could not be recorded",
		},
	)
)

func recordedInc(kind string) {
	recorded.WithLabelValues(kind).Inc()
}

func recordFailuresInc() {
	recordFailures.Inc()
}

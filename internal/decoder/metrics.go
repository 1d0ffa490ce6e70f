package decoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decodedLogs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_decoded_logs_total",
			Help: "Total number of logs decoded into documents",
		},
		[]string{"event"},
	)

	decodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_decode_failures_total",
			Help: "Total number of logs that failed to decode",
		},
		[]string{"event"},
	)
)

func decodedInc(event string) {
	decodedLogs.WithLabelValues(event).Inc()
}

func decodeFailuresInc(event string) {
	decodeFailures.WithLabelValues(event).Inc()
}

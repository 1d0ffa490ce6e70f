package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chainsync_retries_total",
		Help: "Total number of retried operations",
	},
	[]string{"operation"},
)

func retriesInc(operation string) {
	retries.WithLabelValues(operation).Inc()
}

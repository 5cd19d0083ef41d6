package poll

import "github.com/prometheus/client_golang/prometheus"

var (
	statusQueries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offload_poll_status_queries_total",
			Help: "Total number of successful run status queries.",
		},
	)

	transientQueryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offload_poll_transient_failures_total",
			Help: "Total number of status queries absorbed as transient failures.",
		},
	)
)

func init() {
	prometheus.MustRegister(statusQueries)
	prometheus.MustRegister(transientQueryFailures)
}

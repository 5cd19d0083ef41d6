package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label values for invocation outcomes.
const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeCorrupt   = "corrupt"
	outcomeCancelled = "cancelled"
)

// Lifecycle stage labels.
const (
	stagePackage  = "package"
	stageUpload   = "upload"
	stagePublish  = "publish"
	stageRegister = "register"
	stageDispatch = "dispatch"
	stagePoll     = "poll"
	stageRetrieve = "retrieve"
)

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_invocations_total",
			Help: "Total number of invocations by terminal outcome.",
		},
		[]string{"outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offload_stage_duration_seconds",
			Help:    "Duration of each lifecycle stage, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(invocationsTotal)
	prometheus.MustRegister(stageDuration)

	// Pre-initialize label combinations so they appear in /metrics with value
	// 0 from startup, rather than only after first observation.
	for _, outcome := range []string{outcomeSucceeded, outcomeFailed, outcomeCorrupt, outcomeCancelled} {
		invocationsTotal.WithLabelValues(outcome)
	}
}

// observeStage times one lifecycle stage. Use as: defer observeStage(stage)().
func observeStage(stage string) func() {
	start := time.Now()
	return func() {
		stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

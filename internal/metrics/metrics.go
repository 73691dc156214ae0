// Package metrics exposes prometheus collectors for the pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeVerified labels operations executed and verified.
	OutcomeVerified = "verified"
	// OutcomeExecuted labels operations executed but awaiting re-verification.
	OutcomeExecuted = "executed"
	// OutcomeFailed labels operations whose execution failed.
	OutcomeFailed = "failed"
	// OutcomeReview labels operations escalated to human review.
	OutcomeReview = "review"
	// OutcomeOther labels anything else.
	OutcomeOther = "other"
)

const namespace = "gatekeeper"

var (
	envelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Total number of operations processed, partitioned by final outcome.",
		},
		[]string{"outcome"},
	)

	confidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Overall confidence assigned at intake.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		},
	)

	reviewQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "review_queue_depth",
			Help:      "Pending items in the human review queue.",
		},
	)

	passDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Processing pass latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"pass"},
	)
)

// Register attaches gatekeeper collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		envelopesTotal,
		confidenceScore,
		reviewQueueDepth,
		passDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEnvelope counts one operation by outcome label.
func ObserveEnvelope(outcome string) {
	switch outcome {
	case OutcomeVerified, OutcomeExecuted, OutcomeFailed, OutcomeReview:
	default:
		outcome = OutcomeOther
	}
	envelopesTotal.WithLabelValues(outcome).Inc()
}

// ObserveConfidence records an intake confidence score.
func ObserveConfidence(score float64) {
	confidenceScore.Observe(score)
}

// ObservePass records the duration of one pass.
func ObservePass(pass int, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	passDurationSeconds.WithLabelValues(strconv.Itoa(pass)).Observe(duration.Seconds())
}

// SetReviewQueueDepth publishes the pending review item count.
func SetReviewQueueDepth(n int) {
	reviewQueueDepth.Set(float64(n))
}

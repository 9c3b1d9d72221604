package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	postsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "devlogs_feed",
		Subsystem: "pipeline",
		Name:      "posts_accepted_total",
		Help:      "Total posts accepted by the live-path pipeline",
	})

	postsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devlogs_feed",
		Subsystem: "pipeline",
		Name:      "posts_rejected_total",
		Help:      "Total posts rejected by the live-path pipeline, by reason",
	}, []string{"reason"})

	flushDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "devlogs_feed",
		Subsystem: "pipeline",
		Name:      "flush_duration_seconds",
		Help:      "Time spent on one batch-flush pass",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

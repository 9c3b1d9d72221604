package mlworker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "devlogs_feed",
		Subsystem: "ml_worker",
		Name:      "batch_latency_seconds",
		Help:      "Time spent running classification + embedding for one batch",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "devlogs_feed",
		Subsystem: "ml_worker",
		Name:      "batch_size",
		Help:      "Number of requests collected into one scoring batch",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
	})
)

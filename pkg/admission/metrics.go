package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pager_admission_decisions_total",
			Help: "Total number of admission decisions by outcome",
		},
		[]string{"outcome"}, // granted, rejected
	)

	noisePointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pager_admission_noise_points_total",
		Help: "Total number of simulated background points added to the bucket",
	})

	bucketPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pager_admission_bucket_points",
		Help: "Bucket points after the last admission decision",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pager_admission_queue_depth",
		Help: "Requests waiting for the admission controller",
	})
)

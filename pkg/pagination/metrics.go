package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pager_stream_fetches_total",
		Help: "Total page requests issued by fetch streams",
	})

	streamRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pager_stream_rejections_total",
		Help: "Total 429 responses received by fetch streams",
	})

	streamThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pager_stream_throttles_total",
		Help: "Total pre-flight sleeps taken because the local estimate could not afford a page",
	})

	streamBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pager_stream_backoff_seconds",
		Help:    "Sleep duration of fetch streams by reason",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"reason"}) // throttle, rejection

	streamRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pager_stream_records_total",
		Help: "Total records yielded by fetch streams",
	})

	streamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_stream_errors_total",
		Help: "Total fetch streams ended by a terminal error, by kind",
	}, []string{"kind"})
)

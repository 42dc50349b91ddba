package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusDuplicate = "duplicate"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlog_events_total",
			Help: "Total number of log entries processed, by source and status",
		},
		[]string{"source", "status"},
	)

	EventBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlog_event_bytes_total",
			Help: "Total bytes of raw log entry data received",
		},
		[]string{"source"},
	)

	NormalizationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudlog_normalization_duration_seconds",
			Help:    "Duration of log entry normalization in seconds",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		},
		[]string{"source"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlog_stage_errors_total",
			Help: "Total number of hard errors, by source and aborting stage",
		},
		[]string{"source", "stage"},
	)

	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlog_dlq_writes_total",
			Help: "Total number of dead-letter writes, by result",
		},
		[]string{"result"},
	)

	IndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlog_indexed_total",
			Help: "Total number of documents handed to the index sink, by result",
		},
		[]string{"result"},
	)

	PublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlog_published_total",
			Help: "Total number of normalized events published, by source and result",
		},
		[]string{"source", "result"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudlog_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter, by key",
		},
		[]string{"key"},
	)
)

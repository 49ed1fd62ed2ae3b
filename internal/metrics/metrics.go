// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest boundary metrics
	BatchesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventloom_ingest_batches_accepted_total",
			Help: "Total number of batches accepted for processing",
		},
	)

	EventsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventloom_ingest_events_accepted_total",
			Help: "Total number of events accepted for processing",
		},
	)

	BatchesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventloom_ingest_batches_rejected_total",
			Help: "Total number of rejected ingest requests",
		},
		[]string{"reason"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventloom_ingest_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	// Worker metrics
	EventsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventloom_worker_events_persisted_total",
			Help: "Total number of events durably persisted",
		},
	)

	EventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventloom_worker_events_duplicate_total",
			Help: "Total number of events skipped as already witnessed",
		},
	)

	Retries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventloom_worker_retries_total",
			Help: "Total number of messages republished for retry",
		},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventloom_worker_dead_lettered_total",
			Help: "Total number of messages routed to the dead-letter subject",
		},
		[]string{"reason"},
	)

	DLQPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventloom_worker_dlq_publish_failures_total",
			Help: "Total number of failed dead-letter publishes (alarm condition)",
		},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventloom_worker_processing_duration_seconds",
			Help:    "Duration of message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

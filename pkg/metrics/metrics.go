// Package metrics defines the Prometheus metrics exported by mailfiler.
//
// The webhook server exposes them over HTTP. A Lambda function is too
// short-lived to be scraped, so it pushes them to a Pushgateway instead
// (see Push).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event and message metrics
var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_events_total",
			Help: "Total number of storage events handled, by outcome",
		},
		[]string{"status"},
	)

	EmailsFiledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_emails_filed_total",
			Help: "Total number of inbound email objects processed, by result",
		},
		[]string{"result"},
	)

	EmailProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailfiler_email_processing_duration_seconds",
			Help:    "Time taken to file a single email object",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	HeaderFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_header_fallbacks_total",
			Help: "Header fields that could not be parsed and were used raw or defaulted",
		},
		[]string{"header"},
	)
)

// Storage metrics
var (
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_s3_operations_total",
			Help: "Total number of S3 operations",
		},
		[]string{"operation", "status"},
	)

	S3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailfiler_s3_operation_duration_seconds",
			Help:    "Duration of S3 operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	StorageOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_storage_operation_errors_total",
			Help: "S3 operation errors by class",
		},
		[]string{"operation", "error_type"},
	)

	S3RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_s3_retries_total",
			Help: "Total number of retried S3 operations",
		},
		[]string{"operation"},
	)
)

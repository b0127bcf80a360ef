package prometheus

import (
	"time"

	"hub-service/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   prometheus.CounterVec
	HttpRequestDuration prometheus.HistogramVec

	// Database operation metrics
	DbOperationDuration prometheus.HistogramVec

	// Ingestion metrics
	ReadingsIngestedCounter prometheus.CounterVec
	BatchItemsCounter       prometheus.CounterVec
	ReadingsDeletedCounter  prometheus.Counter

	// Sync metrics
	SyncBatchesCounter   prometheus.CounterVec
	SyncItemsCounter     prometheus.CounterVec
	SyncConflictsCounter prometheus.Counter
)

// InitMetrics initializes Prometheus metrics with configuration
func InitMetrics(config *config.Config) {
	prefix := config.Metrics.Prefix

	HttpRequestsTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	DbOperationDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	ReadingsIngestedCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_readings_ingested_total",
			Help: "Total number of readings persisted, by source",
		},
		[]string{"source"},
	)

	BatchItemsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_batch_items_total",
			Help: "Total number of batch items processed, by outcome",
		},
		[]string{"outcome"},
	)

	ReadingsDeletedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_readings_deleted_total",
			Help: "Total number of readings removed by range deletes",
		},
	)

	SyncBatchesCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_sync_batches_total",
			Help: "Total number of sync batches applied, by outcome",
		},
		[]string{"outcome"},
	)

	SyncItemsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_sync_items_total",
			Help: "Total number of sync items replayed, by outcome",
		},
		[]string{"outcome"},
	)

	SyncConflictsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_sync_conflicts_total",
			Help: "Total number of sync batches rejected because one was already running",
		},
	)
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DbOperationDuration.WithLabelValues(operationType).Observe(duration)
	}
}

// RecordReadingIngested increments the ingestion counter for a source
// ("single", "batch" or "sync").
func RecordReadingIngested(source string) {
	ReadingsIngestedCounter.WithLabelValues(source).Inc()
}

// RecordBatchItem increments the batch item counter for an outcome
// ("success" or "failed").
func RecordBatchItem(outcome string) {
	BatchItemsCounter.WithLabelValues(outcome).Inc()
}

// RecordSyncBatch increments the sync batch counter for an outcome
// ("applied", "rejected" or "failed").
func RecordSyncBatch(outcome string) {
	SyncBatchesCounter.WithLabelValues(outcome).Inc()
}

// RecordSyncItem increments the sync item counter for an outcome
// ("persisted", "duplicate" or "failed").
func RecordSyncItem(outcome string) {
	SyncItemsCounter.WithLabelValues(outcome).Inc()
}

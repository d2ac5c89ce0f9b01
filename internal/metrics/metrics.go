package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobQueueLength tracks the number of import jobs in the queue
	JobQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btcwatch_job_queue_length",
		Help: "The number of import jobs currently in the queue",
	})

	// WorkersActive tracks the number of active workers
	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btcwatch_workers_active",
		Help: "The number of workers currently active",
	})

	// ExplorerRequestsTotal tracks explorer API requests by status
	ExplorerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btcwatch_explorer_requests_total",
			Help: "The total number of explorer API requests",
		},
		[]string{"operation", "status"},
	)

	// ImportDurationSeconds tracks time taken by import and update runs
	ImportDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btcwatch_import_duration_seconds",
		Help:    "Time taken by an import or update run in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
	}, []string{"job_type"})

	// PagesFetched tracks transaction pages fetched from the explorer
	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcwatch_pages_fetched_total",
		Help: "The total number of transaction pages fetched",
	})

	// TransactionsImported tracks persisted transaction rows by outcome
	TransactionsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btcwatch_transactions_imported_total",
			Help: "The total number of transaction rows processed",
		},
		[]string{"status"}, // inserted, duplicate, failed
	)

	// ImportOutcomes tracks terminal import states
	ImportOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btcwatch_import_outcomes_total",
			Help: "The total number of import runs by terminal state",
		},
		[]string{"job_type", "outcome"}, // completed, failed, truncated
	)

	// PricePointsIngested tracks stored price history rows
	PricePointsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btcwatch_price_points_ingested_total",
			Help: "The total number of price history rows ingested",
		},
		[]string{"source", "status"}, // inserted, updated, failed
	)
)

// RecordExplorerRequest records an explorer API request with the given status
func RecordExplorerRequest(operation, status string) {
	ExplorerRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordImportDuration records the time taken by an import run
func RecordImportDuration(jobType string, seconds float64) {
	ImportDurationSeconds.WithLabelValues(jobType).Observe(seconds)
}

// RecordTransactionImported records the outcome of one transaction row
func RecordTransactionImported(status string) {
	TransactionsImported.WithLabelValues(status).Inc()
}

// RecordImportOutcome records the terminal state of an import run
func RecordImportOutcome(jobType, outcome string) {
	ImportOutcomes.WithLabelValues(jobType, outcome).Inc()
}

// RecordPricePoint records one ingested price history row
func RecordPricePoint(source, status string) {
	PricePointsIngested.WithLabelValues(source, status).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal tracks finished ingestion cycles by result (success, failure)
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_etl_cycles_total",
			Help: "Total number of ingestion cycles",
		},
		[]string{"result"},
	)

	// CycleDuration tracks how long a successful cycle takes end to end
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_etl_cycle_duration_seconds",
			Help:    "Duration of successful ingestion cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// LastSuccess is the unix time of the last successful cycle
	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_etl_last_success_timestamp_seconds",
			Help: "Unix time of the last successful ingestion cycle",
		},
	)

	// RecordsExtracted tracks products parsed from the source
	RecordsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_etl_records_extracted_total",
			Help: "Total number of products extracted from the catalog",
		},
	)

	// RecordsInserted tracks rows actually written to the sink
	RecordsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_etl_records_inserted_total",
			Help: "Total number of rows inserted into the sink",
		},
	)

	// BatchesLoaded tracks committed batches
	BatchesLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_etl_batches_loaded_total",
			Help: "Total number of batches committed to the sink",
		},
	)

	// DBBatchSize tracks the size of batches written to the database
	DBBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_etl_db_batch_size",
			Help:    "Number of rows per sink transaction",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// DBConnectionPoolUsage tracks the percentage of open sink connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_etl_db_connection_pool_usage_percent",
			Help: "Percentage of the sink connection pool in use",
		},
	)

	// Categories is the size of the last built category index
	Categories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_etl_categories",
			Help: "Number of categories in the last built index",
		},
	)

	// RetryWait is the backoff wait before the next retry, zero when healthy
	RetryWait = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_etl_retry_wait_seconds",
			Help: "Current backoff wait before the next retry",
		},
	)
)

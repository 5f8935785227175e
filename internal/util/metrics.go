package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReleasesInsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "releases_inserted_total",
		Help: "Total number of new releases inserted",
	}, []string{"source"})

	ReleasesUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "releases_updated_total",
		Help: "Total number of existing releases updated",
	}, []string{"source"})

	RecordsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "records_rejected_total",
		Help: "Total number of raw records rejected during normalization",
	}, []string{"source", "reason"})

	SnapshotsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_snapshots_written_total",
		Help: "Total number of stock snapshots persisted",
	})

	SnapshotsSuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_snapshots_suppressed_total",
		Help: "Total number of unchanged stock observations skipped",
	})

	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dual_store_commits_total",
		Help: "Total number of dual-store commits by outcome",
	}, []string{"outcome"})

	PartialCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dual_store_partial_commits_total",
		Help: "Total number of commits where exactly one store failed",
	}, []string{"failed_store"})

	RepairRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commit_repair_retries_total",
		Help: "Total number of store-specific repair retries",
	}, []string{"store", "outcome"})

	CommitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dual_store_commit_latency_seconds",
		Help:    "Latency of dual-store commit operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"store"})

	AlertsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_change_alerts_total",
		Help: "Total number of status-change alert events emitted",
	})

	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_retry_attempts_total",
		Help: "Total number of retried outbound calls",
	}, []string{"source"})

	JournalRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_records_total",
		Help: "Total number of records written to or replayed from the fallback journal",
	}, []string{"direction"})

	DocumentsSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "release_documents_synced_total",
		Help: "Total number of release documents backfilled into the document store",
	})

	FinalizeRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daily_stats_finalize_runs_total",
		Help: "Total number of daily stats finalize passes",
	}, []string{"outcome"})

	BatchSizeObserved = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_batch_size",
		Help:    "Size of ingested batches",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

package ingest

import (
	"context"

	"release-tracker/internal/models"
)

// RelationalStore is the subset of the relational store the pipeline writes.
// The concrete implementation lives in internal/store.
type RelationalStore interface {
	GetReleaseByIdentityKey(ctx context.Context, key string) (*models.Release, error)
	UpsertRelease(ctx context.Context, release *models.Release) (bool, error)
	UpsertRetailer(ctx context.Context, retailer *models.Retailer) error
	InsertSnapshot(ctx context.Context, snap *models.StockSnapshot) error
	GetLatestSnapshot(ctx context.Context, identityKey string) (*models.StockSnapshot, error)
}

// DocumentStore is the subset of the document store the pipeline writes.
// The concrete implementation lives in internal/docstore.
type DocumentStore interface {
	SaveRelease(ctx context.Context, release *models.Release) error
	MergeRetailer(ctx context.Context, retailer *models.Retailer) error
	SaveSnapshot(ctx context.Context, snap *models.StockSnapshot) error
}

// StatsRecorder receives best-effort daily counters. Implementations must
// never block the ingestion path.
type StatsRecorder interface {
	IncrementDaily(sourceID, kind string)
}

// AlertPublisher receives status-transition events and run summaries, fire
// and forget. Publish failures are logged, never propagated into item results.
type AlertPublisher interface {
	PublishStatusChanged(ctx context.Context, event *models.StatusChangedEvent) error
	PublishRunSummary(ctx context.Context, event *models.RunSummaryEvent) error
}

// Journal is the append-only fallback sink for records that could not be
// committed after retries.
type Journal interface {
	Append(source models.SourceContext, record models.RawRecord) error
}

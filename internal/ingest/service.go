package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"release-tracker/internal/models"
	"release-tracker/internal/normalizer"
	"release-tracker/internal/util"
)

// ErrBatchTooLarge rejects oversized batches wholesale rather than silently
// truncating them.
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// Rejection reasons surfaced in item results
const (
	ReasonMissingIdentity = "missing_identity"
	ReasonStoreError      = "store_error"
	ReasonAbandoned       = "run_abandoned"
)

// Service is the ingestion pipeline: normalize, deduplicate, snapshot,
// dual-store commit, stats, alerts. Per-record failures never abort a batch.
type Service struct {
	normalizer   *normalizer.Normalizer
	resolver     *Resolver
	tracker      *Tracker
	committer    *Committer
	stats        StatsRecorder
	alerts       AlertPublisher
	journal      Journal
	locks        *KeyLocks
	maxBatchSize int
	logger       *zap.Logger
	now          func() time.Time
}

// NewService wires the pipeline together
func NewService(
	norm *normalizer.Normalizer,
	resolver *Resolver,
	tracker *Tracker,
	committer *Committer,
	stats StatsRecorder,
	alerts AlertPublisher,
	journal Journal,
	maxBatchSize int,
) *Service {
	if maxBatchSize <= 0 {
		maxBatchSize = 1000
	}
	return &Service{
		normalizer:   norm,
		resolver:     resolver,
		tracker:      tracker,
		committer:    committer,
		stats:        stats,
		alerts:       alerts,
		journal:      journal,
		locks:        NewKeyLocks(),
		maxBatchSize: maxBatchSize,
		logger:       util.GetLogger(),
		now:          time.Now,
	}
}

// MaxBatchSize returns the batch cap enforced by IngestBatch
func (s *Service) MaxBatchSize() int { return s.maxBatchSize }

// IngestBatch runs an ordered list of raw records through the pipeline and
// reports a per-item outcome. Oversized batches are rejected wholesale.
func (s *Service) IngestBatch(ctx context.Context, src models.SourceContext, records []models.RawRecord) (*models.BatchResult, error) {
	ctx, span := util.StartSpan(ctx, "IngestService.IngestBatch")
	defer span.End()

	if len(records) > s.maxBatchSize {
		return nil, fmt.Errorf("%w: %d records, cap %d", ErrBatchTooLarge, len(records), s.maxBatchSize)
	}

	util.BatchSizeObserved.Observe(float64(len(records)))

	result := &models.BatchResult{
		RunID:    uuid.New().String(),
		SourceID: src.SourceID,
		Items:    make([]models.ItemResult, 0, len(records)),
	}

	if err := s.committer.EnsureRetailer(ctx, &models.Retailer{
		RetailerID:     src.RetailerID,
		DisplayName:    src.RetailerName,
		Region:         src.Region,
		SourceEndpoint: src.SourceEndpoint,
	}); err != nil {
		return nil, err
	}

	for i, raw := range records {
		if ctx.Err() != nil {
			// abandoned run: remaining records are discarded, never
			// half-committed
			item := models.ItemResult{Index: i, Outcome: models.ItemRejected, Reason: ReasonAbandoned}
			result.Items = append(result.Items, item)
			result.Skipped++
			continue
		}

		item, _ := s.ingestOne(ctx, src, i, raw)
		result.Items = append(result.Items, item)
		switch {
		case item.Outcome == models.ItemCreated:
			result.Inserted++
		case item.Outcome == models.ItemUpdated:
			result.Updated++
		case item.Reason == ReasonAbandoned:
			result.Skipped++
		default:
			result.Errored++
		}
	}

	s.logger.Info("Batch ingested",
		zap.String("run_id", result.RunID),
		zap.String("source", src.SourceID),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errored", result.Errored))

	s.publishRunSummary(ctx, result)
	return result, nil
}

// IngestRecord runs a single raw record through the pipeline. Used by the
// intake consumer and the journal importer. A non-nil error means the record
// was neither applied nor captured in the journal; callers must not
// acknowledge the delivery so the record comes around again.
func (s *Service) IngestRecord(ctx context.Context, src models.SourceContext, raw models.RawRecord) (models.ItemResult, error) {
	if err := s.committer.EnsureRetailer(ctx, &models.Retailer{
		RetailerID:     src.RetailerID,
		DisplayName:    src.RetailerName,
		Region:         src.Region,
		SourceEndpoint: src.SourceEndpoint,
	}); err != nil {
		item := models.ItemResult{Outcome: models.ItemRejected, Reason: ReasonStoreError}
		if s.journalRecord(src, raw, "") {
			return item, nil
		}
		return item, fmt.Errorf("retailer upsert failed and record not journaled: %w", err)
	}

	item, journaled := s.ingestOne(ctx, src, 0, raw)
	if item.Outcome == models.ItemRejected && item.Reason == ReasonStoreError && !journaled {
		return item, fmt.Errorf("record %s neither applied nor journaled", item.IdentityKey)
	}
	return item, nil
}

// ingestOne runs one record through normalize, resolve, snapshot and commit.
// The second return reports whether a store-failed record made it into the
// journal; malformed records are dropped, never journaled.
func (s *Service) ingestOne(ctx context.Context, src models.SourceContext, index int, raw models.RawRecord) (models.ItemResult, bool) {
	release, err := s.normalizer.Normalize(raw, src)
	if err != nil {
		var nerr *normalizer.NormalizationError
		reason := ReasonMissingIdentity
		if errors.As(err, &nerr) {
			reason = nerr.Code
		}
		util.RecordsRejectedTotal.WithLabelValues(src.SourceID, reason).Inc()
		s.stats.IncrementDaily(src.SourceID, models.StatError)
		s.logger.Warn("Record rejected during normalization",
			zap.String("source", src.SourceID),
			zap.Int("index", index),
			zap.Error(err))
		return models.ItemResult{Index: index, Outcome: models.ItemRejected, Reason: reason}, false
	}

	// everything from resolve to commit runs under the per-key lock so
	// observations for one release apply in arrival order
	unlock := s.locks.Lock(release.IdentityKey)
	defer unlock()

	resolution, err := s.resolver.Resolve(ctx, release)
	if err != nil {
		s.stats.IncrementDaily(src.SourceID, models.StatError)
		s.logger.Error("Resolution failed",
			zap.String("identity_key", release.IdentityKey),
			zap.Error(err))
		// a transient lookup failure must not lose the record
		journaled := s.journalRecord(src, raw, release.IdentityKey)
		return models.ItemResult{
			Index: index, Outcome: models.ItemRejected,
			IdentityKey: release.IdentityKey, Reason: ReasonStoreError,
		}, journaled
	}

	var snap *models.StockSnapshot
	if len(raw.Stock) > 0 {
		snap, err = s.tracker.MaybeSnapshot(ctx, release.IdentityKey, raw.Stock)
		if err != nil {
			// snapshot history is best-effort relative to the release itself
			s.logger.Warn("Snapshot check failed, committing release without it",
				zap.String("identity_key", release.IdentityKey),
				zap.Error(err))
			snap = nil
		}
	}

	commit, err := s.committer.Commit(ctx, resolution, snap)
	if err != nil {
		s.stats.IncrementDaily(src.SourceID, models.StatError)
		journaled := s.journalRecord(src, raw, release.IdentityKey)
		return models.ItemResult{
			Index: index, Outcome: models.ItemRejected,
			IdentityKey: release.IdentityKey, Reason: ReasonStoreError,
		}, journaled
	}

	outcome := models.ItemUpdated
	kind := models.StatUpdated
	if commit.Inserted {
		outcome = models.ItemCreated
		kind = models.StatCreated
		util.ReleasesInsertedTotal.WithLabelValues(src.SourceID).Inc()
	} else {
		util.ReleasesUpdatedTotal.WithLabelValues(src.SourceID).Inc()
	}
	s.stats.IncrementDaily(src.SourceID, kind)

	s.maybeAlert(ctx, resolution)

	return models.ItemResult{Index: index, Outcome: outcome, IdentityKey: release.IdentityKey}, false
}

// maybeAlert emits a status-change event when the status differs between two
// consecutive resolutions. Fire and forget.
func (s *Service) maybeAlert(ctx context.Context, res *Resolution) {
	if res.Previous == nil || res.Previous.Status == res.Release.Status {
		return
	}

	event := &models.StatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStatusChanged,
			Timestamp: s.now().UTC(),
		},
		IdentityKey:    res.Release.IdentityKey,
		PreviousStatus: res.Previous.Status,
		NewStatus:      res.Release.Status,
		ObservedAt:     res.Release.LastUpdatedAt,
	}

	if err := s.alerts.PublishStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish status change alert",
			zap.String("identity_key", event.IdentityKey),
			zap.Error(err))
		return
	}
	util.AlertsEmittedTotal.Inc()
}

func (s *Service) publishRunSummary(ctx context.Context, result *models.BatchResult) {
	event := &models.RunSummaryEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeRunSummary,
			Timestamp: s.now().UTC(),
		},
		RunID:    result.RunID,
		SourceID: result.SourceID,
		Inserted: result.Inserted,
		Updated:  result.Updated,
		Skipped:  result.Skipped,
		Errored:  result.Errored,
	}
	if err := s.alerts.PublishRunSummary(ctx, event); err != nil {
		s.logger.Error("Failed to publish run summary", zap.Error(err))
	}
}

// journalRecord spills a raw record to the fallback journal and reports
// whether the write made it to disk.
func (s *Service) journalRecord(src models.SourceContext, raw models.RawRecord, identityKey string) bool {
	if s.journal == nil {
		return false
	}
	if err := s.journal.Append(src, raw); err != nil {
		s.logger.Error("Failed to journal record",
			zap.String("identity_key", identityKey),
			zap.Error(err))
		return false
	}
	return true
}

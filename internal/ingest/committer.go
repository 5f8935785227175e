package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"release-tracker/internal/limiter"
	"release-tracker/internal/models"
	"release-tracker/internal/util"
)

// Store names used in commit outcomes and repair jobs
const (
	StoreDocument   = "document"
	StoreRelational = "relational"
)

// PartialCommitError reports a commit where the document store succeeded but
// the relational store did not. The record is queued for a store-specific
// repair retry; it is never reprocessed from scratch.
type PartialCommitError struct {
	FailedStore string
	IdentityKey string
	Err         error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit for %s: %s store failed: %v", e.IdentityKey, e.FailedStore, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

// CommitResult reports the outcome of a dual-store commit
type CommitResult struct {
	Inserted        bool
	SnapshotWritten bool
	Partial         *PartialCommitError
}

type repairJob struct {
	store    string
	release  *models.Release
	snapshot *models.StockSnapshot
	attempts int
}

// Committer writes resolved releases to both stores. The two stores share no
// transaction; the commit is a two-step saga with an explicit partial state.
// Document store first (live consumers), relational store second (analytical
// consumers).
type Committer struct {
	doc     DocumentStore
	rel     RelationalStore
	limiter *limiter.Limiter
	journal Journal
	repairs chan repairJob
	logger  *zap.Logger
}

// NewCommitter creates a Committer. The journal may be nil; repair jobs that
// exhaust their retries are then dropped with an error log.
func NewCommitter(doc DocumentStore, rel RelationalStore, lim *limiter.Limiter, journal Journal) *Committer {
	return &Committer{
		doc:     doc,
		rel:     rel,
		limiter: lim,
		journal: journal,
		repairs: make(chan repairJob, 1024),
		logger:  util.GetLogger(),
	}
}

// Commit persists a resolved release (and its snapshot, if any) to both
// stores. The returned error means nothing durable happened; a non-nil
// CommitResult with Partial set means the document store has the record and
// only the relational side is pending repair.
func (c *Committer) Commit(ctx context.Context, res *Resolution, snap *models.StockSnapshot) (*CommitResult, error) {
	ctx, span := util.StartSpan(ctx, "Committer.Commit")
	defer span.End()

	start := time.Now()
	err := c.limiter.Do(ctx, StoreDocument, func(ctx context.Context) error {
		if err := c.doc.SaveRelease(ctx, res.Release); err != nil {
			return err
		}
		if snap != nil {
			return c.doc.SaveSnapshot(ctx, snap)
		}
		return nil
	})
	util.CommitLatency.WithLabelValues(StoreDocument).Observe(time.Since(start).Seconds())
	if err != nil {
		util.CommitsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("document store write failed for %s: %w", res.Release.IdentityKey, err)
	}

	result := &CommitResult{Inserted: res.Action == ActionInsert, SnapshotWritten: snap != nil}

	start = time.Now()
	err = c.limiter.Do(ctx, StoreRelational, func(ctx context.Context) error {
		inserted, err := c.rel.UpsertRelease(ctx, res.Release)
		if err != nil {
			return err
		}
		// resolve/insert races collapse into updates at the store level;
		// report what actually happened
		result.Inserted = inserted
		if snap != nil {
			return c.rel.InsertSnapshot(ctx, snap)
		}
		return nil
	})
	util.CommitLatency.WithLabelValues(StoreRelational).Observe(time.Since(start).Seconds())
	if err != nil {
		partial := &PartialCommitError{
			FailedStore: StoreRelational,
			IdentityKey: res.Release.IdentityKey,
			Err:         err,
		}
		result.Partial = partial
		util.CommitsTotal.WithLabelValues("partial").Inc()
		util.PartialCommitsTotal.WithLabelValues(StoreRelational).Inc()
		c.enqueueRepair(repairJob{store: StoreRelational, release: res.Release, snapshot: snap})
		c.logger.Warn("Partial commit, relational repair queued",
			zap.String("identity_key", res.Release.IdentityKey),
			zap.Error(err))
		return result, nil
	}

	util.CommitsTotal.WithLabelValues("ok").Inc()
	if snap != nil {
		util.SnapshotsWrittenTotal.Inc()
	}
	return result, nil
}

// EnsureRetailer lazily creates or merges retailer metadata in both stores.
// Relational comes first here: release rows reference the retailer.
func (c *Committer) EnsureRetailer(ctx context.Context, retailer *models.Retailer) error {
	if err := c.limiter.Do(ctx, StoreRelational, func(ctx context.Context) error {
		return c.rel.UpsertRetailer(ctx, retailer)
	}); err != nil {
		return fmt.Errorf("failed to upsert retailer %s: %w", retailer.RetailerID, err)
	}

	if err := c.limiter.Do(ctx, StoreDocument, func(ctx context.Context) error {
		return c.doc.MergeRetailer(ctx, retailer)
	}); err != nil {
		// document side repairs on next sighting; merge writes are idempotent
		c.logger.Warn("Retailer merge failed on document store",
			zap.String("retailer_id", retailer.RetailerID),
			zap.Error(err))
	}
	return nil
}

func (c *Committer) enqueueRepair(job repairJob) {
	select {
	case c.repairs <- job:
	default:
		c.logger.Error("Repair queue full, journaling record",
			zap.String("identity_key", job.release.IdentityKey))
		c.journalJob(job)
	}
}

// StartRepairWorker retries the failed half of partial commits until the
// context is cancelled. Records that keep failing end up in the journal.
func (c *Committer) StartRepairWorker(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-c.repairs:
				c.repair(ctx, job)
			}
		}
	}()
}

const maxRepairAttempts = 3

func (c *Committer) repair(ctx context.Context, job repairJob) {
	err := c.limiter.Do(ctx, job.store, func(ctx context.Context) error {
		switch job.store {
		case StoreRelational:
			if _, err := c.rel.UpsertRelease(ctx, job.release); err != nil {
				return err
			}
			if job.snapshot != nil {
				return c.rel.InsertSnapshot(ctx, job.snapshot)
			}
			return nil
		case StoreDocument:
			if err := c.doc.SaveRelease(ctx, job.release); err != nil {
				return err
			}
			if job.snapshot != nil {
				return c.doc.SaveSnapshot(ctx, job.snapshot)
			}
			return nil
		default:
			return limiter.Fatal(fmt.Errorf("unknown store %q", job.store))
		}
	})

	if err == nil {
		util.RepairRetriesTotal.WithLabelValues(job.store, "ok").Inc()
		c.logger.Info("Repaired partial commit",
			zap.String("identity_key", job.release.IdentityKey),
			zap.String("store", job.store))
		return
	}

	util.RepairRetriesTotal.WithLabelValues(job.store, "failed").Inc()
	job.attempts++
	if job.attempts < maxRepairAttempts && ctx.Err() == nil {
		c.enqueueRepair(job)
		return
	}

	c.logger.Error("Repair retries exhausted",
		zap.String("identity_key", job.release.IdentityKey),
		zap.String("store", job.store),
		zap.Error(err))
	c.journalJob(job)
}

func (c *Committer) journalJob(job repairJob) {
	if c.journal == nil {
		return
	}
	raw, src := rawFromRelease(job.release, job.snapshot)
	if err := c.journal.Append(src, raw); err != nil {
		c.logger.Error("Failed to journal record",
			zap.String("identity_key", job.release.IdentityKey),
			zap.Error(err))
	}
}

// rawFromRelease rebuilds a batch-schema record from a resolved release so an
// importer can replay it through the normal ingestion path.
func rawFromRelease(release *models.Release, snap *models.StockSnapshot) (models.RawRecord, models.SourceContext) {
	raw := models.RawRecord{
		Name:      release.Name,
		SKU:       release.SKU,
		Brand:     release.Brand,
		Price:     strconv.FormatFloat(float64(release.PriceCents)/100, 'f', 2, 64),
		Currency:  release.Currency,
		Status:    string(release.Status),
		ImageURLs: release.ImageURLs,
		SourceURL: release.SourceURL,
	}
	if release.ReleaseDate != nil {
		raw.ReleaseDate = release.ReleaseDate.Format(time.RFC3339)
	}
	if snap != nil {
		raw.Stock = snap.StockByVariant
	}
	src := models.SourceContext{SourceID: release.SourceID, RetailerID: release.RetailerID}
	if src.SourceID == "" {
		src.SourceID = "repair-journal"
	}
	return raw, src
}

package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"release-tracker/internal/models"
	"release-tracker/internal/util"
)

// Counter key layout inside the per-date document-store hash
const (
	counterCreated  = "created"
	counterUpdated  = "updated"
	counterErrors   = "errors"
	sourcePrefix    = "source:"
	dateLayout      = "2006-01-02"
	defaultInterval = 15 * time.Second
)

// DocumentCounters is the document-store side of the aggregator: atomic
// increments, readable by live consumers between flushes.
type DocumentCounters interface {
	IncrDailyCounters(ctx context.Context, date string, deltas map[string]int64) error
	GetDailyCounters(ctx context.Context, date string) (map[string]int64, error)
}

// RelationalStats is the relational side: the approximate in-progress row
// plus the authoritative counts the finalize pass recomputes from.
type RelationalStats interface {
	GetDailyStats(ctx context.Context, date string) (*models.DailyStats, error)
	SaveDailyStats(ctx context.Context, stats *models.DailyStats) error
	FinalizeDailyStats(ctx context.Context, stats *models.DailyStats) error
	CountReleasesFirstSeenOn(ctx context.Context, day time.Time) (int64, error)
	CountReleasesUpdatedOn(ctx context.Context, day time.Time) (int64, error)
	CountReleasesBySourceOn(ctx context.Context, day time.Time) (map[string]int64, error)
}

// Aggregator accumulates per-date ingestion counters in memory and flushes
// them on an interval. Increments never touch a store inline, so a slow or
// down store cannot stall the ingestion path. In-progress numbers are
// approximate; the nightly Finalize pass recomputes them from the relational
// store and marks the row immutable.
type Aggregator struct {
	mu      sync.Mutex
	pending map[string]map[string]int64

	docs     DocumentCounters
	rel      RelationalStats
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregator creates an Aggregator flushing every interval
func NewAggregator(docs DocumentCounters, rel RelationalStats, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Aggregator{
		pending:  make(map[string]map[string]int64),
		docs:     docs,
		rel:      rel,
		interval: interval,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// IncrementDaily records one counted outcome for today's UTC date. Only
// successful writes count toward the per-source breakdown.
func (a *Aggregator) IncrementDaily(sourceID, kind string) {
	date := a.now().UTC().Format(dateLayout)

	a.mu.Lock()
	defer a.mu.Unlock()

	day, ok := a.pending[date]
	if !ok {
		day = make(map[string]int64)
		a.pending[date] = day
	}

	switch kind {
	case models.StatCreated:
		day[counterCreated]++
		day[sourcePrefix+sourceID]++
	case models.StatUpdated:
		day[counterUpdated]++
		day[sourcePrefix+sourceID]++
	case models.StatError:
		day[counterErrors]++
	default:
		a.logger.Warn("Unknown stat kind dropped", zap.String("kind", kind))
	}
}

// Run flushes on the configured interval until the context is cancelled,
// then drains whatever is still pending.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.Flush(drainCtx)
			cancel()
			return
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}

// Flush pushes pending deltas to the document-store counters and rewrites
// the approximate relational rows from the cumulative counter values. Failed
// deltas are merged back into the pending set, never lost silently.
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.pending
	a.pending = make(map[string]map[string]int64)
	a.mu.Unlock()

	for date, deltas := range batch {
		if len(deltas) == 0 {
			continue
		}
		if err := a.docs.IncrDailyCounters(ctx, date, deltas); err != nil {
			a.logger.Warn("Stats flush failed, re-queueing deltas",
				zap.String("date", date),
				zap.Error(err))
			a.requeue(date, deltas)
			continue
		}
		a.writeApproximateRow(ctx, date)
	}
}

func (a *Aggregator) requeue(date string, deltas map[string]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	day, ok := a.pending[date]
	if !ok {
		a.pending[date] = deltas
		return
	}
	for k, v := range deltas {
		day[k] += v
	}
}

// writeApproximateRow mirrors the cumulative counters into the relational
// row so analytical consumers see in-progress numbers too. The counters are
// the cross-process source of truth between finalize passes.
func (a *Aggregator) writeApproximateRow(ctx context.Context, date string) {
	counters, err := a.docs.GetDailyCounters(ctx, date)
	if err != nil {
		a.logger.Warn("Failed to read cumulative counters",
			zap.String("date", date),
			zap.Error(err))
		return
	}

	stats := statsFromCounters(date, counters)
	if err := a.rel.SaveDailyStats(ctx, stats); err != nil {
		a.logger.Warn("Failed to save approximate daily stats",
			zap.String("date", date),
			zap.Error(err))
	}
}

func statsFromCounters(date string, counters map[string]int64) *models.DailyStats {
	stats := &models.DailyStats{
		Date:     date,
		BySource: make(map[string]int64),
	}
	for key, value := range counters {
		switch key {
		case counterCreated:
			stats.ReleasesCreated = value
		case counterUpdated:
			stats.ReleasesUpdated = value
		case counterErrors:
			stats.ErrorsCount = value
		default:
			if len(key) > len(sourcePrefix) && key[:len(sourcePrefix)] == sourcePrefix {
				stats.BySource[key[len(sourcePrefix):]] = value
			}
		}
	}
	return stats
}

// Finalize recomputes the counters for a day from relational scans and
// overwrites the row as finalized. Created and updated counts come from
// release timestamps; error counts have no relational trace, so the
// best-effort counter value is carried over. Idempotent.
func (a *Aggregator) Finalize(ctx context.Context, day time.Time) error {
	day = day.UTC()
	date := day.Format(dateLayout)

	created, err := a.rel.CountReleasesFirstSeenOn(ctx, day)
	if err != nil {
		util.FinalizeRunsTotal.WithLabelValues("failed").Inc()
		return err
	}
	updated, err := a.rel.CountReleasesUpdatedOn(ctx, day)
	if err != nil {
		util.FinalizeRunsTotal.WithLabelValues("failed").Inc()
		return err
	}
	bySource, err := a.rel.CountReleasesBySourceOn(ctx, day)
	if err != nil {
		util.FinalizeRunsTotal.WithLabelValues("failed").Inc()
		return err
	}

	var errorsCount int64
	if existing, err := a.rel.GetDailyStats(ctx, date); err == nil && existing != nil {
		errorsCount = existing.ErrorsCount
	}

	stats := &models.DailyStats{
		Date:            date,
		ReleasesCreated: created,
		ReleasesUpdated: updated,
		ErrorsCount:     errorsCount,
		BySource:        bySource,
		Finalized:       true,
	}
	if err := a.rel.FinalizeDailyStats(ctx, stats); err != nil {
		util.FinalizeRunsTotal.WithLabelValues("failed").Inc()
		return err
	}

	util.FinalizeRunsTotal.WithLabelValues("ok").Inc()
	a.logger.Info("Daily stats finalized",
		zap.String("date", date),
		zap.Int64("created", created),
		zap.Int64("updated", updated))
	return nil
}

package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"release-tracker/internal/broker"
	"release-tracker/internal/journal"
	"release-tracker/internal/models"
	"release-tracker/internal/stats"
	"release-tracker/internal/util"
)

// IntakeWorker consumes raw-record events from the intake topic and feeds
// them through the ingestion pipeline
type IntakeWorker struct {
	consumer *broker.Consumer
	handler  *broker.IntakeHandler
	logger   *zap.Logger
}

// NewIntakeWorker creates an intake worker
func NewIntakeWorker(consumer *broker.Consumer, handler *broker.IntakeHandler) *IntakeWorker {
	return &IntakeWorker{
		consumer: consumer,
		handler:  handler,
		logger:   util.GetLogger(),
	}
}

// Start starts the worker, blocking until the context is cancelled
func (w *IntakeWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting intake worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *IntakeWorker) Stop() error {
	w.logger.Info("Stopping intake worker")
	return w.consumer.Close()
}

// FinalizerWorker periodically finalizes yesterday's daily stats. Finalize
// is idempotent, so running it on every interval is safe even when the day
// was already closed out.
type FinalizerWorker struct {
	aggregator *stats.Aggregator
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewFinalizerWorker creates a finalizer running every interval
func NewFinalizerWorker(aggregator *stats.Aggregator, interval time.Duration) *FinalizerWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &FinalizerWorker{
		aggregator: aggregator,
		interval:   interval,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// Start runs the finalizer loop until the context is cancelled
func (w *FinalizerWorker) Start(ctx context.Context) {
	w.logger.Info("Starting stats finalizer", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			yesterday := w.now().UTC().AddDate(0, 0, -1)
			if err := w.aggregator.Finalize(ctx, yesterday); err != nil {
				w.logger.Error("Stats finalize failed",
					zap.String("date", yesterday.Format("2006-01-02")),
					zap.Error(err))
			}
		}
	}
}

// ImporterWorker periodically replays journaled records through the
// pipeline. The journal only fills when a store was down, so the loop is
// almost always a cheap no-op.
type ImporterWorker struct {
	journal  *journal.Journal
	ingestor broker.Ingestor
	interval time.Duration
	logger   *zap.Logger
}

// NewImporterWorker creates a journal importer running every interval
func NewImporterWorker(j *journal.Journal, ingestor broker.Ingestor, interval time.Duration) *ImporterWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ImporterWorker{
		journal:  j,
		ingestor: ingestor,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the import loop until the context is cancelled
func (w *ImporterWorker) Start(ctx context.Context) {
	w.logger.Info("Starting journal importer", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			replayed, err := w.journal.Replay(ctx, w.replayRecord)
			if err != nil && ctx.Err() == nil {
				w.logger.Error("Journal replay failed", zap.Error(err))
			}
			if replayed > 0 {
				w.logger.Info("Replayed journaled records", zap.Int("count", replayed))
			}
		}
	}
}

func (w *ImporterWorker) replayRecord(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
	_, err := w.ingestor.IngestRecord(ctx, src, record)
	return err
}

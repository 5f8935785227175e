package ingest

import (
	"context"
	"fmt"
	"time"

	"release-tracker/internal/models"
	"release-tracker/internal/util"
)

// Tracker detects stock-level changes and produces immutable snapshots.
// The latest snapshot is always read back from the store of record, never
// from process memory, so restarts cannot lose the comparison baseline.
type Tracker struct {
	store RelationalStore
	now   func() time.Time
}

// NewTracker creates a Tracker backed by the relational store
func NewTracker(relational RelationalStore) *Tracker {
	return &Tracker{store: relational, now: time.Now}
}

// MaybeSnapshot compares the observed stock against the latest stored
// snapshot for the identity key. Returns nil when nothing changed; the caller
// must not persist a no-op snapshot. Callers hold the per-key lock, which is
// what keeps the read-compare-build sequence race-free for a key.
func (t *Tracker) MaybeSnapshot(ctx context.Context, identityKey string, observed map[string]models.VariantStock) (*models.StockSnapshot, error) {
	if len(observed) == 0 {
		return nil, nil
	}

	latest, err := t.store.GetLatestSnapshot(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest snapshot for %s: %w", identityKey, err)
	}

	if latest != nil && models.StockEqual(latest.StockByVariant, observed) {
		util.SnapshotsSuppressedTotal.Inc()
		return nil, nil
	}

	stock := make(map[string]models.VariantStock, len(observed))
	for k, v := range observed {
		stock[k] = v
	}

	return &models.StockSnapshot{
		ReleaseIdentityKey: identityKey,
		ObservedAt:         t.now().UTC(),
		StockByVariant:     stock,
	}, nil
}

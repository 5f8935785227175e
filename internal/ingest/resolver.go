package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"release-tracker/internal/models"
	"release-tracker/internal/store"
	"release-tracker/internal/util"
)

// Resolution actions
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
)

// Resolution is the outcome of deduplicating one normalized release
type Resolution struct {
	Action   string
	Release  *models.Release
	Previous *models.Release // nil on insert
}

// Resolver decides whether a normalized release is new or an update to an
// existing one. Callers must hold the per-identity-key lock across Resolve
// and the commit that follows; the resolver itself takes no locks.
type Resolver struct {
	store  RelationalStore
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver backed by the relational system of record
func NewResolver(relational RelationalStore) *Resolver {
	return &Resolver{
		store:  relational,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Resolve looks up the release by identity key and produces the merged record
// to persist. Merge policy on update: the incoming record wins field by
// field, except identity_key and first_seen_at which are immutable.
func (r *Resolver) Resolve(ctx context.Context, incoming *models.Release) (*Resolution, error) {
	if incoming.IdentityKey == "" {
		return nil, fmt.Errorf("release has no identity key")
	}

	now := r.now().UTC()
	existing, err := r.store.GetReleaseByIdentityKey(ctx, incoming.IdentityKey)
	if err != nil && !errors.Is(err, store.ErrReleaseNotFound) {
		return nil, fmt.Errorf("failed to look up release %s: %w", incoming.IdentityKey, err)
	}

	if existing == nil {
		merged := *incoming
		merged.FirstSeenAt = now
		merged.LastUpdatedAt = now
		return &Resolution{Action: ActionInsert, Release: &merged}, nil
	}

	merged := *incoming
	merged.IdentityKey = existing.IdentityKey
	merged.FirstSeenAt = existing.FirstSeenAt
	merged.LastUpdatedAt = now

	return &Resolution{Action: ActionUpdate, Release: &merged, Previous: existing}, nil
}

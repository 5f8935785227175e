package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"release-tracker/internal/models"
)

type snapshotRow struct {
	models.StockSnapshot
	StockJSON []byte `db:"stock_by_variant"`
}

func (r *snapshotRow) toModel() (*models.StockSnapshot, error) {
	snap := r.StockSnapshot
	if len(r.StockJSON) > 0 {
		if err := json.Unmarshal(r.StockJSON, &snap.StockByVariant); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot stock: %w", err)
		}
	}
	return &snap, nil
}

// InsertSnapshot appends an immutable stock snapshot. Snapshots are never
// updated or deleted.
func (s *Store) InsertSnapshot(ctx context.Context, snap *models.StockSnapshot) error {
	stock, err := json.Marshal(snap.StockByVariant)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO stock_snapshots (release_identity_key, observed_at, stock_by_variant)
		VALUES ($1, $2, $3)
		RETURNING id`

	err = s.db.GetContext(ctx, &snap.ID, query, snap.ReleaseIdentityKey, snap.ObservedAt, stock)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot for %s: %w", snap.ReleaseIdentityKey, err)
	}
	return nil
}

// GetLatestSnapshot retrieves the most recent snapshot for an identity key.
// Returns nil when no snapshot exists yet.
func (s *Store) GetLatestSnapshot(ctx context.Context, identityKey string) (*models.StockSnapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM stock_snapshots
		 WHERE release_identity_key = $1
		 ORDER BY observed_at DESC, id DESC LIMIT 1`,
		identityKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// GetSnapshots retrieves snapshot history for an identity key, newest first
func (s *Store) GetSnapshots(ctx context.Context, identityKey string, limit int) ([]models.StockSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []snapshotRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM stock_snapshots
		 WHERE release_identity_key = $1
		 ORDER BY observed_at DESC, id DESC LIMIT $2`,
		identityKey, limit)
	if err != nil {
		return nil, err
	}

	snaps := make([]models.StockSnapshot, 0, len(rows))
	for i := range rows {
		snap, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"release-tracker/internal/models"
)

// ErrReleaseNotFound is returned when no release exists for an identity key
var ErrReleaseNotFound = errors.New("release not found")

// ErrRetailerNotFound is returned when no retailer exists for a slug
var ErrRetailerNotFound = errors.New("retailer not found")

type releaseRow struct {
	models.Release
	ImageURLsJSON []byte `db:"image_urls"`
}

func (r *releaseRow) toModel() (*models.Release, error) {
	release := r.Release
	if len(r.ImageURLsJSON) > 0 {
		if err := json.Unmarshal(r.ImageURLsJSON, &release.ImageURLs); err != nil {
			return nil, fmt.Errorf("failed to decode image urls: %w", err)
		}
	}
	return &release, nil
}

func marshalURLs(urls []string) ([]byte, error) {
	if urls == nil {
		urls = []string{}
	}
	return json.Marshal(urls)
}

// GetReleaseByIdentityKey retrieves a release by its identity key
func (s *Store) GetReleaseByIdentityKey(ctx context.Context, key string) (*models.Release, error) {
	var row releaseRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM releases WHERE identity_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, ErrReleaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// UpsertRelease writes a release keyed by identity key. On conflict every
// field is overwritten by the incoming record except identity_key and
// first_seen_at. Returns true when the row was inserted rather than updated.
func (s *Store) UpsertRelease(ctx context.Context, release *models.Release) (bool, error) {
	urls, err := marshalURLs(release.ImageURLs)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO releases (identity_key, sku, retailer_id, source_id, name, brand, price_cents,
			currency, status, release_date, image_urls, source_url, first_seen_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (identity_key) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			name = EXCLUDED.name,
			brand = EXCLUDED.brand,
			price_cents = EXCLUDED.price_cents,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			release_date = EXCLUDED.release_date,
			image_urls = EXCLUDED.image_urls,
			source_url = EXCLUDED.source_url,
			last_updated_at = EXCLUDED.last_updated_at
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err = s.db.GetContext(ctx, &inserted, query,
		release.IdentityKey, release.SKU, release.RetailerID, release.SourceID, release.Name,
		release.Brand, release.PriceCents, release.Currency, release.Status, release.ReleaseDate,
		urls, release.SourceURL, release.FirstSeenAt, release.LastUpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert release %s: %w", release.IdentityKey, err)
	}
	return inserted, nil
}

// CountReleasesFirstSeenOn counts releases first seen on the given UTC date
func (s *Store) CountReleasesFirstSeenOn(ctx context.Context, date time.Time) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM releases
		 WHERE first_seen_at >= $1 AND first_seen_at < $1 + INTERVAL '1 day'`,
		date.UTC().Truncate(24*time.Hour))
	return count, err
}

// CountReleasesUpdatedOn counts releases updated but not first seen on the date
func (s *Store) CountReleasesUpdatedOn(ctx context.Context, date time.Time) (int64, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM releases
		 WHERE last_updated_at >= $1 AND last_updated_at < $1 + INTERVAL '1 day'
		   AND first_seen_at < $1`,
		day)
	return count, err
}

// CountReleasesBySourceOn returns per-source counts of releases touched on the
// date, keyed by the source id that last wrote each release. The keyspace
// matches the source-keyed daily counters in the document store.
func (s *Store) CountReleasesBySourceOn(ctx context.Context, date time.Time) (map[string]int64, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	rows, err := s.db.QueryxContext(ctx,
		`SELECT source_id, COUNT(*) FROM releases
		 WHERE last_updated_at >= $1 AND last_updated_at < $1 + INTERVAL '1 day'
		 GROUP BY source_id`,
		day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var sourceID string
		var count int64
		if err := rows.Scan(&sourceID, &count); err != nil {
			return nil, err
		}
		counts[sourceID] = count
	}
	return counts, rows.Err()
}

// ListReleasesUpdatedSince pages through releases last touched at or after the
// given time, ordered oldest first. Callers advance offset until a short page.
func (s *Store) ListReleasesUpdatedSince(ctx context.Context, since time.Time, limit, offset int) ([]*models.Release, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT * FROM releases
		 WHERE last_updated_at >= $1
		 ORDER BY last_updated_at, identity_key
		 LIMIT $2 OFFSET $3`,
		since, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var releases []*models.Release
	for rows.Next() {
		var row releaseRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		release, err := row.toModel()
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)
	}
	return releases, rows.Err()
}

// UpsertRetailer merges retailer metadata, never clobbering fields another
// source already filled in. Empty incoming fields lose to existing values.
func (s *Store) UpsertRetailer(ctx context.Context, retailer *models.Retailer) error {
	query := `
		INSERT INTO retailers (retailer_id, display_name, region, source_endpoint)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (retailer_id) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), retailers.display_name),
			region = COALESCE(NULLIF(EXCLUDED.region, ''), retailers.region),
			source_endpoint = COALESCE(NULLIF(EXCLUDED.source_endpoint, ''), retailers.source_endpoint),
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		retailer.RetailerID, retailer.DisplayName, retailer.Region, retailer.SourceEndpoint)
	if err != nil {
		return fmt.Errorf("failed to upsert retailer %s: %w", retailer.RetailerID, err)
	}
	return nil
}

// GetRetailer retrieves retailer metadata by slug
func (s *Store) GetRetailer(ctx context.Context, retailerID string) (*models.Retailer, error) {
	var retailer models.Retailer
	err := s.db.GetContext(ctx, &retailer, "SELECT * FROM retailers WHERE retailer_id = $1", retailerID)
	if err == sql.ErrNoRows {
		return nil, ErrRetailerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &retailer, nil
}

// IsEventProcessed checks if an intake event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an intake event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

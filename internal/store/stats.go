package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"release-tracker/internal/models"
)

type statsRow struct {
	models.DailyStats
	BySourceJSON []byte `db:"by_source"`
}

func (r *statsRow) toModel() (*models.DailyStats, error) {
	stats := r.DailyStats
	if len(r.BySourceJSON) > 0 {
		if err := json.Unmarshal(r.BySourceJSON, &stats.BySource); err != nil {
			return nil, fmt.Errorf("failed to decode by_source: %w", err)
		}
	}
	if stats.BySource == nil {
		stats.BySource = map[string]int64{}
	}
	return &stats, nil
}

// GetDailyStats retrieves stats for a UTC date (YYYY-MM-DD). Returns nil when
// no row exists for the date.
func (s *Store) GetDailyStats(ctx context.Context, date string) (*models.DailyStats, error) {
	var row statsRow
	err := s.db.GetContext(ctx, &row,
		"SELECT stats_date::text AS stats_date, releases_created, releases_updated, errors_count, by_source, finalized, finalized_at FROM daily_stats WHERE stats_date = $1",
		date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// SaveDailyStats writes approximate in-progress counters for a date. Refuses
// to overwrite a finalized row; the finalize pass owns those.
func (s *Store) SaveDailyStats(ctx context.Context, stats *models.DailyStats) error {
	bySource, err := json.Marshal(stats.BySource)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO daily_stats (stats_date, releases_created, releases_updated, errors_count, by_source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stats_date) DO UPDATE SET
			releases_created = EXCLUDED.releases_created,
			releases_updated = EXCLUDED.releases_updated,
			errors_count = EXCLUDED.errors_count,
			by_source = EXCLUDED.by_source
		WHERE daily_stats.finalized = FALSE`

	_, err = s.db.ExecContext(ctx, query,
		stats.Date, stats.ReleasesCreated, stats.ReleasesUpdated, stats.ErrorsCount, bySource)
	return err
}

// FinalizeDailyStats overwrites the row for a date with authoritative counts
// and marks it finalized. Safe to call repeatedly.
func (s *Store) FinalizeDailyStats(ctx context.Context, stats *models.DailyStats) error {
	bySource, err := json.Marshal(stats.BySource)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO daily_stats (stats_date, releases_created, releases_updated, errors_count,
			by_source, finalized, finalized_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW())
		ON CONFLICT (stats_date) DO UPDATE SET
			releases_created = EXCLUDED.releases_created,
			releases_updated = EXCLUDED.releases_updated,
			errors_count = EXCLUDED.errors_count,
			by_source = EXCLUDED.by_source,
			finalized = TRUE,
			finalized_at = NOW()`

	_, err = s.db.ExecContext(ctx, query,
		stats.Date, stats.ReleasesCreated, stats.ReleasesUpdated, stats.ErrorsCount, bySource)
	if err != nil {
		return fmt.Errorf("failed to finalize daily stats for %s: %w", stats.Date, err)
	}
	return nil
}

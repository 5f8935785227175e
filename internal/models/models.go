package models

import (
	"strings"
	"time"
)

// Status is the canonical availability status of a release
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusAvailable Status = "available"
	StatusRaffle    Status = "raffle"
	StatusSoldOut   Status = "sold_out"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps an arbitrary string onto the closed status enum.
// Anything unrecognized becomes StatusUnknown, never an error.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusUpcoming, StatusAvailable, StatusRaffle, StatusSoldOut:
		return st
	default:
		return StatusUnknown
	}
}

// MakeIdentityKey derives the stable identity key for a release from its
// SKU and retailer slug. Case and surrounding whitespace are insignificant.
func MakeIdentityKey(sku, retailerID string) string {
	return strings.ToLower(strings.TrimSpace(sku)) + ":" + strings.ToLower(strings.TrimSpace(retailerID))
}

// Release represents a canonical product release at a single retailer
type Release struct {
	IdentityKey   string     `db:"identity_key" json:"identity_key"`
	SKU           string     `db:"sku" json:"sku"`
	RetailerID    string     `db:"retailer_id" json:"retailer_id"`
	SourceID      string     `db:"source_id" json:"source_id"`
	Name          string     `db:"name" json:"name"`
	Brand         string     `db:"brand" json:"brand"`
	PriceCents    int64      `db:"price_cents" json:"price_cents"`
	Currency      string     `db:"currency" json:"currency"`
	Status        Status     `db:"status" json:"status"`
	ReleaseDate   *time.Time `db:"release_date" json:"release_date,omitempty"`
	ImageURLs     []string   `db:"-" json:"image_urls,omitempty"`
	SourceURL     string     `db:"source_url" json:"source_url"`
	FirstSeenAt   time.Time  `db:"first_seen_at" json:"first_seen_at"`
	LastUpdatedAt time.Time  `db:"last_updated_at" json:"last_updated_at"`
}

// Retailer represents metadata about a source, created lazily on first sighting
type Retailer struct {
	RetailerID     string    `db:"retailer_id" json:"retailer_id"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	Region         string    `db:"region" json:"region"`
	SourceEndpoint string    `db:"source_endpoint" json:"source_endpoint"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// VariantStock is per-variant availability at observation time
type VariantStock struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

// StockSnapshot is an immutable point-in-time record of variant availability
type StockSnapshot struct {
	ID                 int64                   `db:"id" json:"id,omitempty"`
	ReleaseIdentityKey string                  `db:"release_identity_key" json:"release_identity_key"`
	ObservedAt         time.Time               `db:"observed_at" json:"observed_at"`
	StockByVariant     map[string]VariantStock `db:"-" json:"stock_by_variant"`
}

// StockEqual reports whether two variant maps carry the same stock values,
// independent of key order.
func StockEqual(a, b map[string]VariantStock) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

// DailyStats aggregates ingestion counters for one UTC calendar date
type DailyStats struct {
	Date            string           `db:"stats_date" json:"date"`
	ReleasesCreated int64            `db:"releases_created" json:"releases_created"`
	ReleasesUpdated int64            `db:"releases_updated" json:"releases_updated"`
	ErrorsCount     int64            `db:"errors_count" json:"errors_count"`
	BySource        map[string]int64 `db:"-" json:"by_source"`
	Finalized       bool             `db:"finalized" json:"finalized"`
	FinalizedAt     *time.Time       `db:"finalized_at" json:"finalized_at,omitempty"`
}

// Counter kinds accepted by the stats aggregator
const (
	StatCreated = "created"
	StatUpdated = "updated"
	StatError   = "error"
)

// RawRecord is a source-shaped record before normalization. The field set is
// the superset of what the source adapters emit; most sources fill a subset.
type RawRecord struct {
	Name        string                  `json:"name"`
	SKU         string                  `json:"sku"`
	StyleCode   string                  `json:"style_code,omitempty"`
	Brand       string                  `json:"brand,omitempty"`
	Price       string                  `json:"price,omitempty"`
	Currency    string                  `json:"currency,omitempty"`
	Status      string                  `json:"status,omitempty"`
	ReleaseDate string                  `json:"release_date,omitempty"`
	ImageURLs   []string                `json:"image_urls,omitempty"`
	SourceURL   string                  `json:"source_url,omitempty"`
	Stock       map[string]VariantStock `json:"stock,omitempty"`
}

// SourceContext identifies the source a raw record came from
type SourceContext struct {
	SourceID       string `json:"source_id"`
	RetailerID     string `json:"retailer_id"`
	RetailerName   string `json:"retailer_name,omitempty"`
	Region         string `json:"region,omitempty"`
	SourceEndpoint string `json:"source_endpoint,omitempty"`
}

// Per-item outcomes of a batch ingest
const (
	ItemCreated  = "created"
	ItemUpdated  = "updated"
	ItemRejected = "rejected"
)

// ItemResult reports the outcome of a single record in a batch
type ItemResult struct {
	Index       int    `json:"index"`
	Outcome     string `json:"outcome"`
	IdentityKey string `json:"identity_key,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// BatchResult summarizes an ingest run
type BatchResult struct {
	RunID    string       `json:"run_id"`
	SourceID string       `json:"source_id"`
	Items    []ItemResult `json:"items"`
	Inserted int          `json:"inserted"`
	Updated  int          `json:"updated"`
	Skipped  int          `json:"skipped"`
	Errored  int          `json:"errored"`
}

// ProcessedEvent for intake idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

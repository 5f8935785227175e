package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"release-tracker/internal/models"
)

// MaxBatchOps is the per-pipeline write ceiling. The document store family
// enforces a hard 500-operation limit per batch; larger batches are split.
const MaxBatchOps = 500

const snapshotHistoryLen = 500

// Client is the document-oriented store for live consumers. Releases are
// stored as JSON documents under deterministic keys derived from the identity
// key, so re-commits land on the same document.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to the document store
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func releaseKey(identityKey string) string {
	return "release:" + identityKey
}

func retailerKey(retailerID string) string {
	return "retailer:" + retailerID
}

func latestSnapshotKey(identityKey string) string {
	return "snapshot:latest:" + identityKey
}

func snapshotHistoryKey(identityKey string) string {
	return "snapshot:history:" + identityKey
}

func dailyStatsKey(date string) string {
	return "stats:daily:" + date
}

// SaveRelease upserts a single release document
func (c *Client) SaveRelease(ctx context.Context, release *models.Release) error {
	doc, err := json.Marshal(release)
	if err != nil {
		return fmt.Errorf("failed to marshal release: %w", err)
	}
	if err := c.rdb.Set(ctx, releaseKey(release.IdentityKey), doc, 0).Err(); err != nil {
		return fmt.Errorf("failed to save release %s: %w", release.IdentityKey, err)
	}
	return nil
}

// SaveReleasesBatch writes releases through pipelines chunked at MaxBatchOps.
// Each chunk commits independently, so a failing chunk does not roll back the
// ones already committed. Returns the number of documents written.
func (c *Client) SaveReleasesBatch(ctx context.Context, releases []*models.Release) (int, error) {
	written := 0
	for start := 0; start < len(releases); start += MaxBatchOps {
		end := start + MaxBatchOps
		if end > len(releases) {
			end = len(releases)
		}

		pipe := c.rdb.Pipeline()
		for _, release := range releases[start:end] {
			doc, err := json.Marshal(release)
			if err != nil {
				return written, fmt.Errorf("failed to marshal release %s: %w", release.IdentityKey, err)
			}
			pipe.Set(ctx, releaseKey(release.IdentityKey), doc, 0)
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return written, fmt.Errorf("batch write failed at chunk %d: %w", start/MaxBatchOps, err)
		}
		written += end - start
	}
	return written, nil
}

// GetRelease retrieves a release document. Returns nil when absent.
func (c *Client) GetRelease(ctx context.Context, identityKey string) (*models.Release, error) {
	doc, err := c.rdb.Get(ctx, releaseKey(identityKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var release models.Release
	if err := json.Unmarshal(doc, &release); err != nil {
		return nil, fmt.Errorf("failed to decode release %s: %w", identityKey, err)
	}
	return &release, nil
}

// MergeRetailer merges retailer metadata into its hash. Only non-empty fields
// are written, so concurrent sources never clobber each other's fields.
func (c *Client) MergeRetailer(ctx context.Context, retailer *models.Retailer) error {
	fields := map[string]interface{}{
		"retailer_id": retailer.RetailerID,
		"updated_at":  time.Now().UTC().Format(time.RFC3339),
	}
	if retailer.DisplayName != "" {
		fields["display_name"] = retailer.DisplayName
	}
	if retailer.Region != "" {
		fields["region"] = retailer.Region
	}
	if retailer.SourceEndpoint != "" {
		fields["source_endpoint"] = retailer.SourceEndpoint
	}

	key := retailerKey(retailer.RetailerID)
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.HSetNX(ctx, key, "created_at", time.Now().UTC().Format(time.RFC3339))
	_, err := pipe.Exec(ctx)
	return err
}

// SaveSnapshot stores the latest snapshot document and appends it to the
// bounded history list.
func (c *Client) SaveSnapshot(ctx context.Context, snap *models.StockSnapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, latestSnapshotKey(snap.ReleaseIdentityKey), doc, 0)
	pipe.LPush(ctx, snapshotHistoryKey(snap.ReleaseIdentityKey), doc)
	pipe.LTrim(ctx, snapshotHistoryKey(snap.ReleaseIdentityKey), 0, snapshotHistoryLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// GetLatestSnapshot retrieves the latest snapshot document. Returns nil when
// none exists.
func (c *Client) GetLatestSnapshot(ctx context.Context, identityKey string) (*models.StockSnapshot, error) {
	doc, err := c.rdb.Get(ctx, latestSnapshotKey(identityKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap models.StockSnapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", identityKey, err)
	}
	return &snap, nil
}

// IncrDailyCounters applies best-effort counter deltas for a date
func (c *Client) IncrDailyCounters(ctx context.Context, date string, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for field, delta := range deltas {
		pipe.HIncrBy(ctx, dailyStatsKey(date), field, delta)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetDailyCounters reads the approximate counters for a date
func (c *Client) GetDailyCounters(ctx context.Context, date string) (map[string]int64, error) {
	raw, err := c.rdb.HGetAll(ctx, dailyStatsKey(date)).Result()
	if err != nil {
		return nil, err
	}

	counters := make(map[string]int64, len(raw))
	for field, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		counters[field] = n
	}
	return counters, nil
}

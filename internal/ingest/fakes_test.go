package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"release-tracker/internal/models"
	"release-tracker/internal/store"
)

// fakeRelStore is an in-memory RelationalStore
type fakeRelStore struct {
	mu        sync.Mutex
	releases  map[string]models.Release
	retailers map[string]models.Retailer
	snapshots map[string][]models.StockSnapshot

	failUpsert   error
	failSnapshot error
	failGet      error
	failList     error
}

func newFakeRelStore() *fakeRelStore {
	return &fakeRelStore{
		releases:  make(map[string]models.Release),
		retailers: make(map[string]models.Retailer),
		snapshots: make(map[string][]models.StockSnapshot),
	}
}

func (f *fakeRelStore) GetReleaseByIdentityKey(ctx context.Context, key string) (*models.Release, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.releases[key]; ok {
		copied := r
		return &copied, nil
	}
	return nil, store.ErrReleaseNotFound
}

func (f *fakeRelStore) UpsertRelease(ctx context.Context, release *models.Release) (bool, error) {
	if f.failUpsert != nil {
		return false, f.failUpsert
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.releases[release.IdentityKey]
	stored := *release
	if exists {
		stored.FirstSeenAt = f.releases[release.IdentityKey].FirstSeenAt
	}
	f.releases[release.IdentityKey] = stored
	return !exists, nil
}

func (f *fakeRelStore) UpsertRetailer(ctx context.Context, retailer *models.Retailer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retailers[retailer.RetailerID] = *retailer
	return nil
}

func (f *fakeRelStore) InsertSnapshot(ctx context.Context, snap *models.StockSnapshot) error {
	if f.failSnapshot != nil {
		return f.failSnapshot
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap.ID = int64(len(f.snapshots[snap.ReleaseIdentityKey]) + 1)
	f.snapshots[snap.ReleaseIdentityKey] = append(f.snapshots[snap.ReleaseIdentityKey], *snap)
	return nil
}

func (f *fakeRelStore) ListReleasesUpdatedSince(ctx context.Context, since time.Time, limit, offset int) ([]*models.Release, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.releases))
	for key, r := range f.releases {
		if !r.LastUpdatedAt.Before(since) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	var page []*models.Release
	for i := offset; i < len(keys) && len(page) < limit; i++ {
		copied := f.releases[keys[i]]
		page = append(page, &copied)
	}
	return page, nil
}

func (f *fakeRelStore) GetLatestSnapshot(ctx context.Context, identityKey string) (*models.StockSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.snapshots[identityKey]
	if len(history) == 0 {
		return nil, nil
	}
	latest := history[len(history)-1]
	return &latest, nil
}

// fakeDocStore is an in-memory DocumentStore
type fakeDocStore struct {
	mu        sync.Mutex
	releases  map[string]models.Release
	retailers map[string]models.Retailer
	snapshots map[string]models.StockSnapshot

	failSave error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		releases:  make(map[string]models.Release),
		retailers: make(map[string]models.Retailer),
		snapshots: make(map[string]models.StockSnapshot),
	}
}

func (f *fakeDocStore) SaveRelease(ctx context.Context, release *models.Release) error {
	if f.failSave != nil {
		return f.failSave
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases[release.IdentityKey] = *release
	return nil
}

func (f *fakeDocStore) SaveReleasesBatch(ctx context.Context, releases []*models.Release) (int, error) {
	written := 0
	for _, release := range releases {
		if err := f.SaveRelease(ctx, release); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (f *fakeDocStore) MergeRetailer(ctx context.Context, retailer *models.Retailer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.retailers[retailer.RetailerID]
	if retailer.DisplayName != "" {
		existing.DisplayName = retailer.DisplayName
	}
	if retailer.Region != "" {
		existing.Region = retailer.Region
	}
	if retailer.SourceEndpoint != "" {
		existing.SourceEndpoint = retailer.SourceEndpoint
	}
	existing.RetailerID = retailer.RetailerID
	f.retailers[retailer.RetailerID] = existing
	return nil
}

func (f *fakeDocStore) SaveSnapshot(ctx context.Context, snap *models.StockSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[snap.ReleaseIdentityKey] = *snap
	return nil
}

// fakeStats records counter increments
type fakeStats struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeStats() *fakeStats {
	return &fakeStats{counts: make(map[string]int)}
}

func (f *fakeStats) IncrementDaily(sourceID, kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[sourceID+"/"+kind]++
}

func (f *fakeStats) count(sourceID, kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[sourceID+"/"+kind]
}

// fakeAlerts records published events
type fakeAlerts struct {
	mu        sync.Mutex
	statuses  []models.StatusChangedEvent
	summaries []models.RunSummaryEvent
}

func (f *fakeAlerts) PublishStatusChanged(ctx context.Context, event *models.StatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, *event)
	return nil
}

func (f *fakeAlerts) PublishRunSummary(ctx context.Context, event *models.RunSummaryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, *event)
	return nil
}

// fakeJournal records appended raw records
type fakeJournal struct {
	mu         sync.Mutex
	records    []models.RawRecord
	failAppend error
}

func (f *fakeJournal) Append(src models.SourceContext, record models.RawRecord) error {
	if f.failAppend != nil {
		return f.failAppend
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-tracker/internal/limiter"
	"release-tracker/internal/models"
)

func testLimiter() *limiter.Limiter {
	return limiter.New(limiter.Config{MaxAttempts: 1, BaseDelay: time.Millisecond})
}

func testResolution(key string) *Resolution {
	return &Resolution{
		Action: ActionInsert,
		Release: &models.Release{
			IdentityKey: key,
			SKU:         "dz5485-612",
			RetailerID:  "nike",
			Name:        "Air Jordan 1",
			Status:      models.StatusUpcoming,
		},
	}
}

func TestCommitWritesBothStores(t *testing.T) {
	doc := newFakeDocStore()
	rel := newFakeRelStore()
	committer := NewCommitter(doc, rel, testLimiter(), &fakeJournal{})

	result, err := committer.Commit(context.Background(), testResolution("dz5485-612:nike"), nil)

	require.NoError(t, err)
	assert.Nil(t, result.Partial)
	assert.True(t, result.Inserted)
	assert.Contains(t, doc.releases, "dz5485-612:nike")
	assert.Contains(t, rel.releases, "dz5485-612:nike")
}

func TestCommitIdempotentOnRecommit(t *testing.T) {
	doc := newFakeDocStore()
	rel := newFakeRelStore()
	committer := NewCommitter(doc, rel, testLimiter(), &fakeJournal{})
	ctx := context.Background()

	res := testResolution("dz5485-612:nike")
	first, err := committer.Commit(ctx, res, nil)
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	second, err := committer.Commit(ctx, res, nil)
	require.NoError(t, err)
	assert.False(t, second.Inserted)

	assert.Len(t, rel.releases, 1)
	assert.Len(t, doc.releases, 1)
}

func TestDocumentFailureFailsCommit(t *testing.T) {
	doc := newFakeDocStore()
	doc.failSave = errors.New("connection refused")
	rel := newFakeRelStore()
	committer := NewCommitter(doc, rel, testLimiter(), &fakeJournal{})

	_, err := committer.Commit(context.Background(), testResolution("dz5485-612:nike"), nil)

	require.Error(t, err)
	// relational store must not be written when the first step failed
	assert.Empty(t, rel.releases)
}

func TestRelationalFailureIsPartialSuccess(t *testing.T) {
	doc := newFakeDocStore()
	rel := newFakeRelStore()
	rel.failUpsert = errors.New("deadlock detected")
	committer := NewCommitter(doc, rel, testLimiter(), &fakeJournal{})

	result, err := committer.Commit(context.Background(), testResolution("dz5485-612:nike"), nil)

	require.NoError(t, err)
	require.NotNil(t, result.Partial)
	assert.Equal(t, StoreRelational, result.Partial.FailedStore)
	assert.Contains(t, doc.releases, "dz5485-612:nike")
}

func TestRepairWorkerRetriesOnlyFailedStore(t *testing.T) {
	doc := newFakeDocStore()
	rel := newFakeRelStore()
	rel.failUpsert = errors.New("deadlock detected")
	committer := NewCommitter(doc, rel, testLimiter(), &fakeJournal{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := committer.Commit(ctx, testResolution("dz5485-612:nike"), nil)
	require.NoError(t, err)
	require.NotNil(t, result.Partial)

	// store recovers, repair worker drains the queue
	rel.failUpsert = nil
	committer.StartRepairWorker(ctx)

	require.Eventually(t, func() bool {
		rel.mu.Lock()
		defer rel.mu.Unlock()
		_, ok := rel.releases["dz5485-612:nike"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExhaustedRepairGoesToJournal(t *testing.T) {
	doc := newFakeDocStore()
	rel := newFakeRelStore()
	rel.failUpsert = errors.New("disk full")
	journal := &fakeJournal{}
	committer := NewCommitter(doc, rel, testLimiter(), journal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := committer.Commit(ctx, testResolution("dz5485-612:nike"), nil)
	require.NoError(t, err)

	committer.StartRepairWorker(ctx)

	require.Eventually(t, func() bool {
		journal.mu.Lock()
		defer journal.mu.Unlock()
		return len(journal.records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	assert.Equal(t, "dz5485-612", journal.records[0].SKU)
}

func TestCommitWithSnapshotWritesHistory(t *testing.T) {
	doc := newFakeDocStore()
	rel := newFakeRelStore()
	committer := NewCommitter(doc, rel, testLimiter(), &fakeJournal{})

	snap := &models.StockSnapshot{
		ReleaseIdentityKey: "dz5485-612:nike",
		ObservedAt:         time.Now().UTC(),
		StockByVariant:     map[string]models.VariantStock{"9": {Total: 10, Available: 10}},
	}

	result, err := committer.Commit(context.Background(), testResolution("dz5485-612:nike"), snap)

	require.NoError(t, err)
	assert.True(t, result.SnapshotWritten)
	assert.Len(t, rel.snapshots["dz5485-612:nike"], 1)
	assert.Contains(t, doc.snapshots, "dz5485-612:nike")
}

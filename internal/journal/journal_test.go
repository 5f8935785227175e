package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-tracker/internal/models"
)

func tempJournal(t *testing.T) *Journal {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "journal.ndjson"))
}

var testSrc = models.SourceContext{SourceID: "snkrs", RetailerID: "nike"}

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	j := tempJournal(t)
	defer j.Close()

	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "DZ5485-612", Name: "Air Jordan 1"}))
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "DD1391-100", Name: "Dunk Low"}))

	data, err := os.ReadFile(j.path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "DZ5485-612", entry.Record.SKU)
	assert.Equal(t, "snkrs", entry.Source.SourceID)
	assert.False(t, entry.JournaledAt.IsZero())
}

func TestReplayConsumesEntries(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "a", Name: "A"}))
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "b", Name: "B"}))

	var seen []string
	replayed, err := j.Replay(context.Background(), func(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
		seen = append(seen, record.SKU)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)
	assert.Equal(t, []string{"a", "b"}, seen)

	// consumed lines are gone
	data, err := os.ReadFile(j.path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReplayIgnoresPartialTrailingLine(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "a", Name: "A"}))
	j.Close()

	// simulate a crash mid-append: a line without its newline
	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"source":{"source_id":"snkrs"},"record":{"sku":"trunc`)
	require.NoError(t, err)
	f.Close()

	var seen []string
	replayed, err := j.Replay(context.Background(), func(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
		seen = append(seen, record.SKU)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, []string{"a"}, seen)

	// the partial tail survives the truncation untouched
	data, err := os.ReadFile(j.path)
	require.NoError(t, err)
	assert.Equal(t, `{"source":{"source_id":"snkrs"},"record":{"sku":"trunc`, string(data))
}

func TestReplayDropsUndecodableLines(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "a", Name: "A"}))

	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n")
	require.NoError(t, err)
	f.Close()

	replayed, err := j.Replay(context.Background(), func(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
}

func TestReplayOnMissingFileIsNoop(t *testing.T) {
	j := tempJournal(t)

	replayed, err := j.Replay(context.Background(), func(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
		t.Fatal("should not be called")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, replayed)
}

func TestFailedReplayRestoresRecord(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "a", Name: "A"}))
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "b", Name: "B"}))

	// a replay failure must not shed the failing record or the remainder
	replayed, err := j.Replay(context.Background(), func(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, replayed)

	var seen []string
	replayed, err = j.Replay(context.Background(), func(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
		seen = append(seen, record.SKU)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestCancelledReplayRestoresRemainder(t *testing.T) {
	j := tempJournal(t)
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "a", Name: "A"}))
	require.NoError(t, j.Append(testSrc, models.RawRecord{SKU: "b", Name: "B"}))

	ctx, cancel := context.WithCancel(context.Background())
	replayed, err := j.Replay(ctx, func(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, replayed)

	var seen []string
	_, err = j.Replay(context.Background(), func(ctx context.Context, src models.SourceContext, record models.RawRecord) error {
		seen = append(seen, record.SKU)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, seen)
}

package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"release-tracker/internal/models"
	"release-tracker/internal/util"
)

// Entry is one journaled record: the raw record plus enough source context
// to replay it through the normal ingestion path.
type Entry struct {
	Source      models.SourceContext `json:"source"`
	Record      models.RawRecord     `json:"record"`
	JournaledAt time.Time            `json:"journaled_at"`
}

// ReplayFunc replays one stolen entry. Implementations own re-journaling on
// failure; the journal drops the consumed line either way.
type ReplayFunc func(ctx context.Context, src models.SourceContext, record models.RawRecord) error

// Journal is an append-only NDJSON file holding records that could not be
// committed. One JSON object per line; a line is only trusted once its
// trailing newline is on disk, so a crash mid-write never corrupts earlier
// entries.
type Journal struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Journal at path. The file is opened lazily on first append.
func New(path string) *Journal {
	return &Journal{
		path:   path,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Append writes one entry as a single NDJSON line
func (j *Journal) Append(src models.SourceContext, record models.RawRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.open(); err != nil {
		return err
	}

	line, err := json.Marshal(Entry{Source: src, Record: record, JournaledAt: j.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	util.JournalRecordsTotal.WithLabelValues("written").Inc()
	return nil
}

func (j *Journal) open() error {
	if j.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal %s: %w", j.path, err)
	}
	j.file = f
	return nil
}

// Close closes the underlying file, if open
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Replay steals all complete lines from the journal and runs each through
// fn. The steal happens under the lock so concurrent appends land after it;
// replay itself runs unlocked so fn can itself append without deadlocking.
// On a cancelled context or an fn error the unprocessed remainder goes back
// into the file. Returns the number of entries replayed successfully.
func (j *Journal) Replay(ctx context.Context, fn ReplayFunc) (int, error) {
	lines, err := j.steal()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for i, line := range lines {
		if ctx.Err() != nil {
			// put the untouched remainder back
			j.logger.Warn("Replay interrupted, re-journaling remaining entries",
				zap.Int("remaining", len(lines)-i))
			j.restore(lines[i:])
			return replayed, ctx.Err()
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			j.logger.Error("Dropping undecodable journal line", zap.Error(err))
			continue
		}

		if err := fn(ctx, entry.Source, entry.Record); err != nil {
			// the record is in neither store nor journal at this point, so
			// put it and the remainder back and let the next cycle retry
			j.logger.Warn("Journal replay failed for record, re-journaling remainder",
				zap.String("sku", entry.Record.SKU),
				zap.Error(err))
			j.restore(lines[i:])
			return replayed, err
		}
		replayed++
		util.JournalRecordsTotal.WithLabelValues("replayed").Inc()
	}
	return replayed, nil
}

// steal removes every complete line from the file and returns them. A
// trailing partial line (no newline yet) stays in place. The truncation is a
// write-temp-then-rename so a crash leaves either the old file or the
// remainder, never a half-truncated one.
func (j *Journal) steal() ([][]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	idx := bytes.LastIndexByte(data, '\n')
	if idx < 0 {
		return nil, nil
	}
	complete, rest := data[:idx], data[idx+1:]

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, rest, 0o644); err != nil {
		return nil, fmt.Errorf("failed to truncate journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return nil, fmt.Errorf("failed to truncate journal: %w", err)
	}

	// the append handle points at the replaced inode; reopen on next use
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}

	var lines [][]byte
	for _, line := range bytes.Split(complete, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (j *Journal) restore(lines [][]byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.open(); err != nil {
		j.logger.Error("Failed to reopen journal for restore", zap.Error(err))
		return
	}
	for _, line := range lines {
		if _, err := j.file.Write(append(line, '\n')); err != nil {
			j.logger.Error("Failed to restore journal line", zap.Error(err))
			return
		}
	}
}

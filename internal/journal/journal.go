// Package journal records partition outcomes in SQLite so interrupted runs
// can be resumed from the right offset.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/robert-malhotra/reservoir-area/internal/pipeline"
)

// recordedAtLayout sorts lexically in time order.
const recordedAtLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNoRuns is returned when the journal holds no entries for a folder.
var ErrNoRuns = errors.New("no runs recorded")

const schema = `
CREATE TABLE IF NOT EXISTS partitions (
	run_id      TEXT    NOT NULL,
	folder      TEXT    NOT NULL,
	label       TEXT    NOT NULL,
	idx         INTEGER NOT NULL,
	table_name  TEXT    NOT NULL,
	features    INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	failed_ids  TEXT    NOT NULL,
	exported    INTEGER NOT NULL,
	error       TEXT    NOT NULL,
	duration_ms INTEGER NOT NULL,
	recorded_at TEXT    NOT NULL,
	PRIMARY KEY (run_id, idx)
);
CREATE INDEX IF NOT EXISTS partitions_folder ON partitions (folder, label, idx);
`

// Entry is one recorded partition.
type Entry struct {
	RunID      string
	RecordedAt time.Time
	pipeline.PartitionReport
}

// Journal is a SQLite-backed pipeline.Recorder scoped to one export folder
// and label.
type Journal struct {
	db     *sql.DB
	folder string
	label  string
}

// Open opens or creates the journal database at path.
func Open(path, folder, label string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Journal{db: db, folder: folder, label: label}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordPartition implements pipeline.Recorder.
func (j *Journal) RecordPartition(ctx context.Context, runID string, r pipeline.PartitionReport) error {
	failedIDs, err := json.Marshal(r.FailedIDs)
	if err != nil {
		return fmt.Errorf("failed to encode failed IDs: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO partitions
		(run_id, folder, label, idx, table_name, features, succeeded, failed, failed_ids, exported, error, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, j.folder, j.label, r.Index, r.Table, r.Features, r.Succeeded, r.Failed,
		string(failedIDs), r.Exported, r.Error, r.Duration.Milliseconds(),
		time.Now().UTC().Format(recordedAtLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record partition %d: %w", r.Index, err)
	}
	return nil
}

// Latest returns the newest entry per partition index, ordered by index.
func (j *Journal) Latest(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, idx, table_name, features, succeeded, failed, failed_ids, exported, error, duration_ms, recorded_at
		FROM partitions p
		WHERE folder = ? AND label = ? AND recorded_at = (
			SELECT MAX(recorded_at) FROM partitions q
			WHERE q.folder = p.folder AND q.label = p.label AND q.idx = p.idx
		)
		ORDER BY idx`, j.folder, j.label)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			failedIDs  string
			durationMS int64
			recordedAt string
		)
		if err := rows.Scan(&e.RunID, &e.Index, &e.Table, &e.Features, &e.Succeeded, &e.Failed,
			&failedIDs, &e.Exported, &e.Error, &durationMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		if err := json.Unmarshal([]byte(failedIDs), &e.FailedIDs); err != nil {
			return nil, fmt.Errorf("failed to decode failed IDs: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.RecordedAt, err = time.Parse(recordedAtLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal rows: %w", err)
	}
	return entries, nil
}

// Pending returns the partition indexes in [0, fileNumbers) whose latest
// entry is missing or not complete.
func (j *Journal) Pending(ctx context.Context, fileNumbers int) ([]int, error) {
	entries, err := j.Latest(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(entries))
	for _, e := range entries {
		done[e.Index] = e.Complete()
	}
	pending := []int{}
	for i := 0; i < fileNumbers; i++ {
		if !done[i] {
			pending = append(pending, i)
		}
	}
	return pending, nil
}

// ResumeOffset returns the first partition that has not been exported. It
// returns ErrNoRuns when nothing is recorded.
func (j *Journal) ResumeOffset(ctx context.Context) (int, error) {
	entries, err := j.Latest(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, ErrNoRuns
	}
	next := 0
	for _, e := range entries {
		if e.Index != next || !e.Exported {
			break
		}
		next++
	}
	return next, nil
}

package observer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dcshock/scrapepipe/pipeline"

	_ "modernc.org/sqlite"
)

const runLogSchema = `CREATE TABLE IF NOT EXISTS pipeline_run (
	run_id      TEXT PRIMARY KEY,
	pipeline    TEXT NOT NULL,
	replay      INTEGER NOT NULL,
	state       TEXT NOT NULL,
	items       INTEGER NOT NULL DEFAULT 0,
	elapsed_ms  INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  TEXT NOT NULL,
	finished_at TEXT
)`

// RunRecord is one row of the run log.
type RunRecord struct {
	RunID      string
	Pipeline   string
	Replay     bool
	State      string
	Items      int
	Elapsed    time.Duration
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in progress
}

// RunLog persists pipeline runs to SQLite (pipeline_run) so they can be
// listed after the fact.
type RunLog struct {
	db  *sql.DB
	now func() time.Time
}

// OpenRunLog opens or creates the run log at path.
func OpenRunLog(path string) (*RunLog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(runLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{db: db, now: time.Now}, nil
}

// BeforeRun implements pipeline.Observer. Inserts or resets the run's row
// with state "running".
func (l *RunLog) BeforeRun(ctx context.Context, run *pipeline.Run) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO pipeline_run (run_id, pipeline, replay, state, started_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
	pipeline = excluded.pipeline,
	replay = excluded.replay,
	state = excluded.state,
	items = 0,
	elapsed_ms = 0,
	error = NULL,
	started_at = excluded.started_at,
	finished_at = NULL`,
		run.ID, run.Pipeline, run.Replay, pipeline.StateRunning.String(), formatTime(l.now()))
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// AfterRun implements pipeline.Observer. Stores the final state, counts and
// error of the run.
func (l *RunLog) AfterRun(ctx context.Context, run *pipeline.Run, stats pipeline.Stats, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `
UPDATE pipeline_run
SET state = ?, items = ?, elapsed_ms = ?, error = ?, finished_at = ?
WHERE run_id = ?`,
		stats.State.String(), stats.Items, stats.Elapsed.Milliseconds(), errText, formatTime(l.now()), run.ID)
	if err != nil {
		return fmt.Errorf("record run result: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty name lists every
// pipeline.
func (l *RunLog) Recent(ctx context.Context, name string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT run_id, pipeline, replay, state, items, elapsed_ms, error, started_at, finished_at
FROM pipeline_run
WHERE ? = '' OR pipeline = ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?`, name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r         RunRecord
			elapsedMs int64
			errText   sql.NullString
			started   string
			finished  sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Pipeline, &r.Replay, &r.State, &r.Items, &elapsedMs, &errText, &started, &finished); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		r.Error = errText.String
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("list runs: started_at: %w", err)
		}
		if finished.Valid {
			if r.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
				return nil, fmt.Errorf("list runs: finished_at: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *RunLog) Close() error { return l.db.Close() }

// Fixed width, so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		project_dir TEXT NOT NULL,
		backend TEXT NOT NULL,
		lanes INTEGER NOT NULL,
		max_rounds INTEGER NOT NULL,
		phase TEXT NOT NULL DEFAULT 'running',
		reason TEXT NOT NULL DEFAULT '',
		rounds INTEGER NOT NULL DEFAULT 0,
		checkpoints INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		ended_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS rounds (
		run_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		completed INTEGER NOT NULL,
		pending INTEGER NOT NULL,
		exhausted TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at TEXT NOT NULL,
		PRIMARY KEY (run_id, number),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS lanes (
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		lane INTEGER NOT NULL,
		worker_id TEXT NOT NULL,
		task TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, round, lane),
		FOREIGN KEY (run_id, round) REFERENCES rounds(run_id, number) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		label TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		pushed INTEGER NOT NULL DEFAULT 0,
		push_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		PRIMARY KEY (run_id, round),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_failures (
		task TEXT PRIMARY KEY,
		failures INTEGER NOT NULL,
		last_failure TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

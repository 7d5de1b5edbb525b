package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveFailures replaces the retry ledger. Tasks not listed are cleared,
// which is how a task's count resets after it completes.
func (s *SQLiteStore) SaveFailures(ctx context.Context, failures []TaskFailure) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_failures`); err != nil {
		return fmt.Errorf("failed to clear task failures: %w", err)
	}

	now := formatTime(time.Now())
	for _, f := range failures {
		if f.Failures <= 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_failures (task, failures, last_failure, updated_at)
			VALUES (?, ?, ?, ?)
		`, f.Task, f.Failures, f.LastFailure, now)
		if err != nil {
			return fmt.Errorf("failed to insert failure for %q: %w", f.Task, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadFailures returns the retry ledger ordered by task text.
func (s *SQLiteStore) LoadFailures(ctx context.Context) ([]TaskFailure, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT task, failures, last_failure
		FROM task_failures
		ORDER BY task
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query task failures: %w", err)
	}
	defer rows.Close()

	failures := []TaskFailure{}
	for rows.Next() {
		var f TaskFailure
		if err := rows.Scan(&f.Task, &f.Failures, &f.LastFailure); err != nil {
			return nil, fmt.Errorf("failed to scan task failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task failures: %w", err)
	}
	return failures, nil
}

// ResetFailures clears every retry count.
func (s *SQLiteStore) ResetFailures(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_failures`); err != nil {
		return fmt.Errorf("failed to reset task failures: %w", err)
	}
	return nil
}

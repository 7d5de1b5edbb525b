package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// StartRun inserts a new run in the "running" phase.
func (s *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	phase := run.Phase
	if phase == "" {
		phase = "running"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, project_dir, backend, lanes, max_rounds, phase, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.ProjectDir, run.Backend, run.Lanes, run.MaxRounds, phase, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal phase of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET phase = ?, reason = ?, rounds = ?, checkpoints = ?, ended_at = ?
		WHERE id = ?
	`, run.Phase, run.Reason, run.Rounds, run.Checkpoints, formatTime(run.EndedAt), run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %q: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `id, project_dir, backend, lanes, max_rounds, phase, reason, rounds, checkpoints, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var started, ended string
	if err := row.Scan(&run.ID, &run.ProjectDir, &run.Backend, &run.Lanes, &run.MaxRounds,
		&run.Phase, &run.Reason, &run.Rounds, &run.Checkpoints, &started, &ended); err != nil {
		return Run{}, err
	}

	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if run.EndedAt, err = parseTime(ended); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun returns a single run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return &run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SaveRound stores a round with its lanes and checkpoint in one transaction.
// Saving the same round twice replaces it.
func (s *SQLiteStore) SaveRound(ctx context.Context, runID string, round RoundRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rounds (run_id, number, outcome, completed, pending, exhausted, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, number) DO UPDATE SET
			outcome = excluded.outcome,
			completed = excluded.completed,
			pending = excluded.pending,
			exhausted = excluded.exhausted,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at
	`, runID, round.Number, round.Outcome, round.Completed, round.Pending,
		strings.Join(round.Exhausted, "\n"), formatTime(round.StartedAt), formatTime(round.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert round: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lanes WHERE run_id = ? AND round = ?`, runID, round.Number); err != nil {
		return fmt.Errorf("failed to delete old lanes: %w", err)
	}
	for _, lane := range round.Lanes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lanes (run_id, round, lane, worker_id, task, attempt, outcome, exit_code, summary, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, round.Number, lane.Lane, lane.WorkerID, lane.Task, lane.Attempt, lane.Outcome,
			lane.ExitCode, lane.Summary, lane.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert lane %d: %w", lane.Lane, err)
		}
	}

	if cp := round.Checkpoint; cp != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (run_id, round, label, commit_hash, pushed, push_error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, round) DO UPDATE SET
				label = excluded.label,
				commit_hash = excluded.commit_hash,
				pushed = excluded.pushed,
				push_error = excluded.push_error,
				created_at = excluded.created_at
		`, runID, round.Number, cp.Label, cp.Commit, cp.Pushed, cp.PushError, formatTime(cp.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert checkpoint: %w", err)
		}
	}

	// Keep the run row's counters current so status works mid-run.
	_, err = tx.ExecContext(ctx, `
		UPDATE runs
		SET rounds = (SELECT COUNT(*) FROM rounds WHERE run_id = ?),
			checkpoints = (SELECT COUNT(*) FROM checkpoints WHERE run_id = ?)
		WHERE id = ?
	`, runID, runID, runID)
	if err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRounds returns the rounds of a run in order, with lanes and checkpoints.
func (s *SQLiteStore) ListRounds(ctx context.Context, runID string) ([]RoundRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rounds, err := s.queryRounds(ctx, runID)
	if err != nil {
		return nil, err
	}

	index := make(map[int]*RoundRecord, len(rounds))
	for i := range rounds {
		index[rounds[i].Number] = &rounds[i]
	}

	lanes, err := s.queryLanes(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, lane := range lanes {
		if r, ok := index[lane.Round]; ok {
			r.Lanes = append(r.Lanes, lane)
		}
	}

	checkpoints, err := s.queryCheckpoints(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range checkpoints {
		if r, ok := index[checkpoints[i].Round]; ok {
			r.Checkpoint = &checkpoints[i]
		}
	}

	return rounds, nil
}

func (s *SQLiteStore) queryRounds(ctx context.Context, runID string) ([]RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, outcome, completed, pending, exhausted, started_at, ended_at
		FROM rounds
		WHERE run_id = ?
		ORDER BY number
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	rounds := []RoundRecord{}
	for rows.Next() {
		var r RoundRecord
		var exhausted, started, ended string
		if err := rows.Scan(&r.Number, &r.Outcome, &r.Completed, &r.Pending, &exhausted, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		if exhausted != "" {
			r.Exhausted = strings.Split(exhausted, "\n")
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.EndedAt, err = parseTime(ended); err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return rounds, nil
}

func (s *SQLiteStore) queryLanes(ctx context.Context, runID string) ([]LaneRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, lane, worker_id, task, attempt, outcome, exit_code, summary, duration_ms
		FROM lanes
		WHERE run_id = ?
		ORDER BY round, lane
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lanes: %w", err)
	}
	defer rows.Close()

	var lanes []LaneRecord
	for rows.Next() {
		var l LaneRecord
		var ms int64
		if err := rows.Scan(&l.Round, &l.Lane, &l.WorkerID, &l.Task, &l.Attempt, &l.Outcome, &l.ExitCode, &l.Summary, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan lane: %w", err)
		}
		l.Duration = time.Duration(ms) * time.Millisecond
		lanes = append(lanes, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lanes: %w", err)
	}
	return lanes, nil
}

func (s *SQLiteStore) queryCheckpoints(ctx context.Context, runID string) ([]CheckpointRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, label, commit_hash, pushed, push_error, created_at
		FROM checkpoints
		WHERE run_id = ?
		ORDER BY round
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []CheckpointRecord
	for rows.Next() {
		var cp CheckpointRecord
		var created string
		if err := rows.Scan(&cp.Round, &cp.Label, &cp.Commit, &cp.Pushed, &cp.PushError, &created); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		if cp.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}

package persistence

import (
	"context"
	"sort"

	"github.com/aristath/overnight/internal/scheduler"
)

// Recorder persists scheduler rounds for one run.
type Recorder struct {
	store Store
	runID string
}

// NewRecorder returns a scheduler.Recorder writing to store under runID.
func NewRecorder(store Store, runID string) *Recorder {
	return &Recorder{store: store, runID: runID}
}

// RecordRound saves the round and the retry ledger as of the end of the round.
func (r *Recorder) RecordRound(ctx context.Context, st scheduler.RunState, round scheduler.Round) error {
	if err := r.store.SaveRound(ctx, r.runID, ToRoundRecord(round)); err != nil {
		return err
	}
	return r.store.SaveFailures(ctx, FailuresFromState(st))
}

// ToRoundRecord converts a scheduler round for storage.
func ToRoundRecord(round scheduler.Round) RoundRecord {
	rec := RoundRecord{
		Number:    round.Number,
		Outcome:   string(round.Outcome),
		Completed: round.Completed,
		Pending:   round.Pending,
		Exhausted: round.Exhausted,
		StartedAt: round.StartedAt,
		EndedAt:   round.EndedAt,
	}

	for _, lane := range round.Lanes {
		summary := ""
		if lane.Report != nil {
			summary = lane.Report.Summary
		} else if lane.Outcome != scheduler.LaneCompleted {
			summary = lane.Describe()
		}
		rec.Lanes = append(rec.Lanes, LaneRecord{
			Round:    round.Number,
			Lane:     lane.Lane,
			WorkerID: lane.WorkerID,
			Task:     lane.Task.Text,
			Attempt:  lane.Attempt,
			Outcome:  string(lane.Outcome),
			ExitCode: lane.ExitCode,
			Summary:  summary,
			Duration: lane.Duration,
		})
	}

	if cp := round.Checkpoint; cp != nil && !cp.NoOp {
		pushErr := ""
		if cp.PushErr != nil {
			pushErr = cp.PushErr.Error()
		}
		rec.Checkpoint = &CheckpointRecord{
			Round:     round.Number,
			Label:     cp.Label,
			Commit:    cp.Commit,
			Pushed:    cp.Pushed,
			PushError: pushErr,
			CreatedAt: round.EndedAt,
		}
	}
	return rec
}

// FailuresFromState extracts the retry ledger from a run state.
func FailuresFromState(st scheduler.RunState) []TaskFailure {
	failures := make([]TaskFailure, 0, len(st.Failures))
	for task, n := range st.Failures {
		failures = append(failures, TaskFailure{Task: task, Failures: n, LastFailure: st.LastFailure[task]})
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Task < failures[j].Task })
	return failures
}

// SeedState builds the initial run state from a persisted retry ledger.
func SeedState(failures []TaskFailure) scheduler.RunState {
	counts := make(map[string]int, len(failures))
	for _, f := range failures {
		counts[f.Task] = f.Failures
	}
	st := scheduler.NewRunState(counts)
	for _, f := range failures {
		if f.LastFailure != "" {
			st.LastFailure[f.Task] = f.LastFailure
		}
	}
	return st
}

package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/overnight/internal/checkpoint"
	"github.com/aristath/overnight/internal/handoff"
	"github.com/aristath/overnight/internal/ledger"
	"github.com/aristath/overnight/internal/scheduler"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

var start = time.Date(2026, 10, 19, 22, 0, 0, 0, time.UTC)

func testRun(id string, startedAt time.Time) Run {
	return Run{ID: id, ProjectDir: "/proj", Backend: "claude", Lanes: 2, MaxRounds: 5, StartedAt: startedAt}
}

func TestStartAndFinishRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.StartRun(ctx, testRun("run-1", start)); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Phase != "running" || !got.EndedAt.IsZero() {
		t.Errorf("new run should be running with no end time, got %+v", got)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, start)
	}

	finished := testRun("run-1", start)
	finished.Phase = "blocked"
	finished.Reason = "round_limit"
	finished.Rounds = 5
	finished.Checkpoints = 4
	finished.EndedAt = start.Add(3 * time.Hour)
	if err := store.FinishRun(ctx, finished); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Phase != "blocked" || got.Reason != "round_limit" || got.Rounds != 5 || got.Checkpoints != 4 {
		t.Errorf("unexpected finished run: %+v", got)
	}
	if !got.EndedAt.Equal(start.Add(3 * time.Hour)) {
		t.Errorf("EndedAt = %v", got.EndedAt)
	}
}

func TestRunNotFound(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun: expected ErrRunNotFound, got %v", err)
	}
	if err := store.FinishRun(ctx, Run{ID: "missing", Phase: "done"}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun: expected ErrRunNotFound, got %v", err)
	}
}

func TestRecentRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := store.StartRun(ctx, testRun(id, start.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("StartRun %s: %v", id, err)
		}
	}

	runs, err := store.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("expected newest first [c b], got %+v", runs)
	}
}

func TestSaveRoundAndList(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.StartRun(ctx, testRun("run-1", start)); err != nil {
		t.Fatal(err)
	}

	round := RoundRecord{
		Number:    1,
		Outcome:   "partial",
		Completed: 3,
		Pending:   2,
		Exhausted: []string{"Flaky task"},
		StartedAt: start,
		EndedAt:   start.Add(40 * time.Minute),
		Lanes: []LaneRecord{
			{Round: 1, Lane: 1, WorkerID: "R1L1", Task: "A", Attempt: 1, Outcome: "completed", Summary: "did A", Duration: 12 * time.Minute},
			{Round: 1, Lane: 2, WorkerID: "R1L2", Task: "B", Attempt: 2, Outcome: "timed_out", Duration: 40 * time.Minute},
		},
		Checkpoint: &CheckpointRecord{Round: 1, Label: "partial", Commit: "abc123", PushError: "no git remote configured", CreatedAt: start.Add(40 * time.Minute)},
	}

	// Saving twice replaces rather than duplicates.
	for i := 0; i < 2; i++ {
		if err := store.SaveRound(ctx, "run-1", round); err != nil {
			t.Fatalf("SaveRound failed: %v", err)
		}
	}

	rounds, err := store.ListRounds(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRounds failed: %v", err)
	}
	if len(rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(rounds))
	}
	got := rounds[0]
	if got.Outcome != "partial" || got.Completed != 3 || got.Pending != 2 {
		t.Errorf("unexpected round: %+v", got)
	}
	if len(got.Exhausted) != 1 || got.Exhausted[0] != "Flaky task" {
		t.Errorf("Exhausted = %v", got.Exhausted)
	}
	if len(got.Lanes) != 2 || got.Lanes[1].Duration != 40*time.Minute || got.Lanes[0].Summary != "did A" {
		t.Errorf("unexpected lanes: %+v", got.Lanes)
	}
	if got.Checkpoint == nil || got.Checkpoint.Commit != "abc123" || got.Checkpoint.Pushed {
		t.Errorf("unexpected checkpoint: %+v", got.Checkpoint)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Rounds != 1 || run.Checkpoints != 1 {
		t.Errorf("run counters not updated: %+v", run)
	}
}

func TestForeignKeyEnforced(t *testing.T) {
	store := testStore(t)

	err := store.SaveRound(context.Background(), "no-such-run", RoundRecord{Number: 1, Outcome: "blocked"})
	if err == nil {
		t.Fatal("expected foreign key violation for unknown run")
	}
}

func TestFailuresRoundTripAndReset(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveFailures(ctx, []TaskFailure{
		{Task: "B", Failures: 1, LastFailure: "timed out"},
		{Task: "A", Failures: 2},
		{Task: "C", Failures: 0},
	}); err != nil {
		t.Fatalf("SaveFailures failed: %v", err)
	}

	got, err := store.LoadFailures(ctx)
	if err != nil {
		t.Fatalf("LoadFailures failed: %v", err)
	}
	if len(got) != 2 || got[0].Task != "A" || got[1].LastFailure != "timed out" {
		t.Errorf("unexpected failures: %+v", got)
	}

	// Replacing drops tasks that are no longer failing.
	if err := store.SaveFailures(ctx, []TaskFailure{{Task: "A", Failures: 3}}); err != nil {
		t.Fatal(err)
	}
	got, _ = store.LoadFailures(ctx)
	if len(got) != 1 || got[0].Failures != 3 {
		t.Errorf("expected only A=3, got %+v", got)
	}

	if err := store.ResetFailures(ctx); err != nil {
		t.Fatalf("ResetFailures failed: %v", err)
	}
	got, _ = store.LoadFailures(ctx)
	if len(got) != 0 {
		t.Errorf("expected no failures after reset, got %+v", got)
	}
}

func TestRecorder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.StartRun(ctx, testRun("run-1", start)); err != nil {
		t.Fatal(err)
	}

	st := scheduler.NewRunState(map[string]int{"B": 1})
	st.LastFailure["B"] = "timed out after 45m0s without a handoff"

	round := scheduler.Round{
		Number:    1,
		Outcome:   scheduler.RoundPartial,
		Completed: 1,
		Pending:   1,
		StartedAt: start,
		EndedAt:   start.Add(time.Hour),
		Lanes: []scheduler.LaneResult{
			{Lane: 1, WorkerID: "R1L1", Task: ledger.Task{Text: "A"}, Attempt: 1, Outcome: scheduler.LaneCompleted,
				Report: &handoff.Report{Summary: "done A"}},
			{Lane: 2, WorkerID: "R1L2", Task: ledger.Task{Text: "B"}, Attempt: 1, Outcome: scheduler.LaneTimedOut,
				Duration: 45 * time.Minute},
		},
		Checkpoint: &checkpoint.Result{Round: 1, Label: "partial", Commit: "def456", Pushed: true},
	}

	if err := NewRecorder(store, "run-1").RecordRound(ctx, st, round); err != nil {
		t.Fatalf("RecordRound failed: %v", err)
	}

	rounds, err := store.ListRounds(ctx, "run-1")
	if err != nil || len(rounds) != 1 {
		t.Fatalf("ListRounds: %v %+v", err, rounds)
	}
	if rounds[0].Lanes[0].Summary != "done A" {
		t.Errorf("completed lane summary = %q", rounds[0].Lanes[0].Summary)
	}
	if rounds[0].Lanes[1].Summary != "timed out after 45m0s without a handoff" {
		t.Errorf("failed lane summary = %q", rounds[0].Lanes[1].Summary)
	}
	if rounds[0].Checkpoint == nil || !rounds[0].Checkpoint.Pushed {
		t.Errorf("checkpoint not recorded: %+v", rounds[0].Checkpoint)
	}

	failures, err := store.LoadFailures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	seeded := SeedState(failures)
	if seeded.Failures["B"] != 1 || seeded.LastFailure["B"] == "" {
		t.Errorf("retry ledger did not survive: %+v", seeded)
	}
}

func TestRecorder_ExhaustionOnlyRound(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.StartRun(ctx, testRun("run-1", start)); err != nil {
		t.Fatal(err)
	}

	st := scheduler.NewRunState(map[string]int{"A": 2})
	st.Exhausted["A"] = true
	round := scheduler.Round{
		Number:    3,
		Outcome:   scheduler.RoundBlocked,
		Pending:   1,
		Exhausted: []string{"A"},
		StartedAt: start,
		EndedAt:   start,
	}
	if err := NewRecorder(store, "run-1").RecordRound(ctx, st, round); err != nil {
		t.Fatalf("RecordRound failed: %v", err)
	}

	rounds, err := store.ListRounds(ctx, "run-1")
	if err != nil || len(rounds) != 1 {
		t.Fatalf("ListRounds: %v %+v", err, rounds)
	}
	if len(rounds[0].Lanes) != 0 || rounds[0].Checkpoint != nil {
		t.Errorf("exhaustion round should have no lanes or checkpoint: %+v", rounds[0])
	}
	if len(rounds[0].Exhausted) != 1 || rounds[0].Exhausted[0] != "A" {
		t.Errorf("exhausted = %v, want [A]", rounds[0].Exhausted)
	}
}

func TestNoOpCheckpointNotRecorded(t *testing.T) {
	rec := ToRoundRecord(scheduler.Round{Number: 2, Checkpoint: &checkpoint.Result{NoOp: true}})
	if rec.Checkpoint != nil {
		t.Errorf("NoOp checkpoint should not be stored, got %+v", rec.Checkpoint)
	}
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.StartRun(ctx, testRun("persisted", start)); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, "persisted"); err != nil {
		t.Errorf("run lost across reopen: %v", err)
	}
}

// Package scheduler runs the round loop: assign ledger tasks to lanes, wait for
// every lane, mark completions and checkpoint once per round.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/overnight/internal/checkpoint"
	"github.com/aristath/overnight/internal/clock"
	"github.com/aristath/overnight/internal/detector"
	"github.com/aristath/overnight/internal/events"
	"github.com/aristath/overnight/internal/ledger"
	"github.com/aristath/overnight/internal/worker"
)

// Defaults applied by New.
const (
	DefaultLanes       = 1
	DefaultRetryBudget = 2
	DefaultLaneTimeout = 45 * time.Minute
)

// Ledger is the task list the scheduler works through.
type Ledger interface {
	Reload() error
	NextIncomplete(n int, skip func(ledger.Task) bool) []ledger.Task
	MarkComplete(t ledger.Task) error
	Counts() (completed, pending int)
}

// Launcher starts one worker per lane.
type Launcher interface {
	Launch(ctx context.Context, req worker.Request) (*worker.LaneHandle, error)
}

// Awaiter blocks until a lane finishes.
type Awaiter interface {
	Await(ctx context.Context, h *worker.LaneHandle, timeout time.Duration) (detector.Result, error)
}

// Checkpointer commits the working tree.
type Checkpointer interface {
	Checkpoint(ctx context.Context, round int, label string) (checkpoint.Result, error)
}

// Recorder persists round history. Errors are logged, never fatal.
type Recorder interface {
	RecordRound(ctx context.Context, st RunState, r Round) error
}

// Config configures a Scheduler.
type Config struct {
	RunID       string
	Lanes       int
	MaxRounds   int // 0 means no limit
	LaneTimeout time.Duration
	RetryBudget int           // Failed attempts allowed per task
	RoundDelay  time.Duration // Pause between rounds

	Clock    clock.Clock
	Bus      *events.EventBus
	Recorder Recorder
}

// Scheduler drives rounds. All ledger and checkpoint access happens on the
// goroutine calling Step or Run.
type Scheduler struct {
	cfg          Config
	ledger       Ledger
	launcher     Launcher
	awaiter      Awaiter
	checkpointer Checkpointer
}

// New creates a Scheduler.
func New(cfg Config, l Ledger, launcher Launcher, awaiter Awaiter, cp Checkpointer) *Scheduler {
	if cfg.Lanes <= 0 {
		cfg.Lanes = DefaultLanes
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.LaneTimeout <= 0 {
		cfg.LaneTimeout = DefaultLaneTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Scheduler{
		cfg:          cfg,
		ledger:       l,
		launcher:     launcher,
		awaiter:      awaiter,
		checkpointer: cp,
	}
}

// Run steps until the run is Done or Blocked. Both are normal returns; an
// error means the run could not continue (context cancelled, unreadable ledger).
func (s *Scheduler) Run(ctx context.Context, st RunState) (Result, error) {
	res := Result{State: st}

	for !res.State.Phase.Terminal() {
		next, round, err := s.Step(ctx, res.State)
		res.State = next
		if round.Reportable() {
			res.Rounds = append(res.Rounds, round)
		}
		if err != nil {
			return res, err
		}
		if next.Phase.Terminal() || s.cfg.RoundDelay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-s.cfg.Clock.After(s.cfg.RoundDelay):
		}
	}

	log.Printf("Run finished: %s after %d round(s), %d checkpoint(s) %s",
		res.State.Phase, res.State.Round, res.State.Checkpoints, res.State.Reason)
	s.cfg.Bus.Emit(events.RunFinishedEvent{
		RunID:     s.cfg.RunID,
		Phase:     res.State.Phase.String(),
		Reason:    res.State.Reason,
		Rounds:    res.State.Round,
		Timestamp: s.cfg.Clock.Now(),
	})
	return res, nil
}

// Step runs at most one round and returns the next state. When nothing can be
// assigned the returned state is terminal and the Round has no lanes.
func (s *Scheduler) Step(ctx context.Context, in RunState) (RunState, Round, error) {
	st := in.clone()
	round := Round{Number: st.Round + 1, StartedAt: s.cfg.Clock.Now()}

	if err := ctx.Err(); err != nil {
		return st, round, err
	}

	// Idle -> Assigning
	st.Phase = Assigning
	if err := s.ledger.Reload(); err != nil {
		if errors.Is(err, ledger.ErrMalformedLedger) {
			log.Printf("WARNING: %v; nothing to do", err)
			st.Phase = Done
			return st, round, nil
		}
		return st, round, fmt.Errorf("loading ledger: %w", err)
	}

	if _, pending := s.ledger.Counts(); pending == 0 {
		st.Phase = Done
		return st, round, nil
	}
	if s.cfg.MaxRounds > 0 && st.Round >= s.cfg.MaxRounds {
		st.Phase = Blocked
		st.Reason = ReasonRoundLimit
		return st, round, nil
	}

	assigned := s.ledger.NextIncomplete(s.cfg.Lanes, func(t ledger.Task) bool {
		key := t.Key()
		if st.Exhausted[key] {
			return true
		}
		if st.Failures[key] >= s.cfg.RetryBudget {
			st.Exhausted[key] = true
			round.Exhausted = append(round.Exhausted, key)
			log.Printf("WARNING: task %q failed %d time(s); skipping it for the rest of the run", key, st.Failures[key])
			return true
		}
		return false
	})
	if len(assigned) == 0 {
		st.Phase = Blocked
		st.Reason = ReasonRetriesExhausted
		if len(round.Exhausted) > 0 {
			// Nothing launched, but the exhaustion itself is the round's outcome.
			round.Outcome = RoundBlocked
			round.Completed, round.Pending = s.ledger.Counts()
			round.EndedAt = s.cfg.Clock.Now()
			s.record(ctx, st, round)
		}
		return st, round, nil
	}

	// Assigning -> Running
	st.Phase = Running
	names := make([]string, len(assigned))
	for i, t := range assigned {
		names[i] = t.Text
	}
	log.Printf("Round %d: %d lane(s)", round.Number, len(assigned))
	s.cfg.Bus.Emit(events.RoundStartedEvent{
		Round:     round.Number,
		Tasks:     names,
		Exhausted: round.Exhausted,
		Timestamp: round.StartedAt,
	})

	results := make([]LaneResult, len(assigned))
	handles := make([]*worker.LaneHandle, len(assigned))
	for i, task := range assigned {
		lane := i + 1
		key := task.Key()
		results[i] = LaneResult{
			Lane:      lane,
			WorkerID:  worker.ID(round.Number, lane),
			Task:      task,
			Attempt:   st.Failures[key] + 1,
			StartedAt: s.cfg.Clock.Now(),
		}

		h, err := s.launcher.Launch(ctx, worker.Request{
			Task:            task,
			Lane:            lane,
			Round:           round.Number,
			Attempt:         results[i].Attempt,
			PreviousFailure: st.LastFailure[key],
			Notes:           st.Notes,
		})
		if err != nil {
			log.Printf("ERROR: %s: %v", results[i].WorkerID, err)
			results[i].Outcome = LaneLaunchFailed
			results[i].Err = err
			continue
		}
		handles[i] = h
		log.Printf("%s started (pid %d, attempt %d): %s", results[i].WorkerID, h.Process.PID(), results[i].Attempt, task.Text)
		s.cfg.Bus.Emit(events.LaneLaunchedEvent{
			Round:     round.Number,
			Lane:      lane,
			WorkerID:  results[i].WorkerID,
			Task:      task.Text,
			Attempt:   results[i].Attempt,
			PID:       h.Process.PID(),
			Timestamp: h.StartedAt,
		})
	}

	// Running -> Collecting: every lane is awaited; the round ends with the slowest one.
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		if h == nil {
			continue
		}
		i, h := i, h
		g.Go(func() error {
			res, err := s.awaiter.Await(gctx, h, s.cfg.LaneTimeout)
			if err != nil {
				return err
			}
			results[i].Duration = res.Elapsed
			results[i].ExitCode = res.ExitCode
			results[i].Report = res.Report
			switch res.Outcome {
			case detector.Completed:
				results[i].Outcome = LaneCompleted
				if res.Report.Blocked() {
					results[i].Outcome = LaneReportedBlocked
				}
			case detector.TimedOut:
				results[i].Outcome = LaneTimedOut
			default:
				results[i].Outcome = LaneProcessExited
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		round.Lanes = results
		return st, round, fmt.Errorf("round %d: %w", round.Number, err)
	}

	st.Phase = Collecting
	round.Lanes = results
	s.collect(&st, round.Number, results)
	round.Completed, round.Pending = s.ledger.Counts()
	round.Outcome = outcome(results)

	// Collecting -> Checkpointing
	st.Phase = Checkpointing
	cp, err := s.checkpointer.Checkpoint(ctx, round.Number, string(round.Outcome))
	switch {
	case err != nil && ctx.Err() != nil:
		return st, round, ctx.Err()
	case err != nil:
		log.Printf("ERROR: round %d checkpoint failed: %v", round.Number, err)
		round.CheckpointErr = err
	default:
		round.Checkpoint = &cp
		if !cp.NoOp {
			st.Checkpoints++
			log.Printf("Round %d checkpoint %s", round.Number, cp.Commit)
		} else {
			log.Printf("Round %d changed nothing; no checkpoint", round.Number)
		}
	}

	st.Round = round.Number
	round.EndedAt = s.cfg.Clock.Now()

	switch {
	case round.Pending == 0:
		st.Phase = Done
	case s.cfg.MaxRounds > 0 && st.Round >= s.cfg.MaxRounds:
		st.Phase = Blocked
		st.Reason = ReasonRoundLimit
	default:
		st.Phase = Idle
	}

	log.Printf("Round %d %s: %d complete, %d pending", round.Number, round.Outcome, round.Completed, round.Pending)
	s.cfg.Bus.Emit(events.RoundCompletedEvent{
		Round:     round.Number,
		Outcome:   string(round.Outcome),
		Completed: round.Completed,
		Pending:   round.Pending,
		Duration:  round.EndedAt.Sub(round.StartedAt),
		Timestamp: round.EndedAt,
	})

	s.record(ctx, st, round)
	return st, round, nil
}

func (s *Scheduler) record(ctx context.Context, st RunState, round Round) {
	if s.cfg.Recorder == nil {
		return
	}
	if err := s.cfg.Recorder.RecordRound(ctx, st, round); err != nil {
		log.Printf("WARNING: failed to record round %d: %v", round.Number, err)
	}
}

// collect marks completed tasks in the ledger and updates retry bookkeeping.
func (s *Scheduler) collect(st *RunState, roundNum int, results []LaneResult) {
	// Workers edit the ledger while they run; mark against the current file.
	if err := s.ledger.Reload(); err != nil {
		log.Printf("WARNING: reloading ledger after round: %v", err)
	}

	var notes []string
	for _, r := range results {
		key := r.Task.Key()

		if r.Outcome == LaneCompleted {
			if err := s.ledger.MarkComplete(r.Task); err != nil {
				log.Printf("ERROR: marking %q complete: %v", key, err)
			}
			delete(st.Failures, key)
			delete(st.LastFailure, key)
		} else {
			st.Failures[key]++
			st.LastFailure[key] = r.Describe()
			log.Printf("WARNING: %s %s (failure %d of %d)", r.WorkerID, r.Describe(), st.Failures[key], s.cfg.RetryBudget)
		}

		if r.Report != nil {
			if r.Report.Blocked() {
				notes = append(notes, fmt.Sprintf("%s reported blocked on %q: %s", r.WorkerID, key, r.Report.Summary))
			}
			for _, f := range r.Report.FollowUps {
				notes = append(notes, fmt.Sprintf("%s: %s", r.WorkerID, f))
			}
		}

		summary := ""
		if r.Report != nil {
			summary = r.Report.Summary
		}
		s.cfg.Bus.Emit(events.LaneFinishedEvent{
			Round:     roundNum,
			Lane:      r.Lane,
			WorkerID:  r.WorkerID,
			Task:      r.Task.Text,
			Outcome:   string(r.Outcome),
			Summary:   summary,
			Duration:  r.Duration,
			Timestamp: s.cfg.Clock.Now(),
		})
	}
	st.Notes = notes
}

// outcome classifies a round from its lanes.
func outcome(results []LaneResult) RoundOutcome {
	completed, timedOut := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case LaneCompleted:
			completed++
		case LaneTimedOut:
			timedOut++
		}
	}

	switch {
	case len(results) > 0 && completed == len(results):
		return RoundAllComplete
	case completed > 0:
		return RoundPartial
	case timedOut > 0:
		return RoundTimeout
	default:
		return RoundBlocked
	}
}

package scheduler

import (
	"fmt"
	"time"

	"github.com/aristath/overnight/internal/checkpoint"
	"github.com/aristath/overnight/internal/handoff"
	"github.com/aristath/overnight/internal/ledger"
)

// Phase is the scheduler state.
type Phase int

const (
	Idle Phase = iota
	Assigning
	Running
	Collecting
	Checkpointing
	Done
	Blocked
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Assigning:
		return "assigning"
	case Running:
		return "running"
	case Collecting:
		return "collecting"
	case Checkpointing:
		return "checkpointing"
	case Done:
		return "done"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether the run has stopped.
func (p Phase) Terminal() bool {
	return p == Done || p == Blocked
}

// Reasons a run ends in Blocked.
const (
	ReasonRoundLimit       = "round_limit"
	ReasonRetriesExhausted = "retries_exhausted"
)

// LaneOutcome is how one lane of a round ended.
type LaneOutcome string

const (
	LaneCompleted     LaneOutcome = "completed"
	LaneTimedOut      LaneOutcome = "timed_out"
	LaneProcessExited LaneOutcome = "process_exited"
	LaneLaunchFailed  LaneOutcome = "launch_failed"

	// LaneReportedBlocked is a handoff declaring the task could not be finished.
	// It counts as a failed attempt.
	LaneReportedBlocked LaneOutcome = "blocked"
)

// RoundOutcome summarises a round.
type RoundOutcome string

const (
	RoundAllComplete RoundOutcome = "all_complete"
	RoundPartial     RoundOutcome = "partial"
	RoundBlocked     RoundOutcome = "blocked"
	RoundTimeout     RoundOutcome = "timeout"
)

// RunState is carried from one Step to the next. Steps never mutate the
// state they are given.
type RunState struct {
	Round       int // Last round that ran
	Phase       Phase
	Reason      string            // Why the run is Blocked
	Failures    map[string]int    // Failed attempts per task key
	Exhausted   map[string]bool   // Tasks that used up their retry budget
	LastFailure map[string]string // Previous failure per task, shown on retry
	Notes       []string          // Follow-ups from the last round's reports
	Checkpoints int               // Commits created so far
}

// NewRunState returns an Idle state. failures seeds retry counts carried over
// from earlier runs and may be nil.
func NewRunState(failures map[string]int) RunState {
	st := RunState{
		Phase:       Idle,
		Failures:    make(map[string]int, len(failures)),
		Exhausted:   make(map[string]bool),
		LastFailure: make(map[string]string),
	}
	for k, v := range failures {
		st.Failures[k] = v
	}
	return st
}

func (s RunState) clone() RunState {
	c := s
	c.Failures = make(map[string]int, len(s.Failures))
	for k, v := range s.Failures {
		c.Failures[k] = v
	}
	c.Exhausted = make(map[string]bool, len(s.Exhausted))
	for k, v := range s.Exhausted {
		c.Exhausted[k] = v
	}
	c.LastFailure = make(map[string]string, len(s.LastFailure))
	for k, v := range s.LastFailure {
		c.LastFailure[k] = v
	}
	c.Notes = append([]string(nil), s.Notes...)
	return c
}

// LaneResult is the outcome of one lane.
type LaneResult struct {
	Lane      int
	WorkerID  string
	Task      ledger.Task
	Attempt   int
	Outcome   LaneOutcome
	ExitCode  int
	Report    *handoff.Report
	Err       error // Launch error for LaneLaunchFailed
	StartedAt time.Time
	Duration  time.Duration
}

// Describe renders the result for a retry payload or a log line.
func (r LaneResult) Describe() string {
	switch r.Outcome {
	case LaneTimedOut:
		return fmt.Sprintf("timed out after %s without a handoff", r.Duration.Round(time.Second))
	case LaneProcessExited:
		return fmt.Sprintf("worker exited with code %d without a handoff", r.ExitCode)
	case LaneLaunchFailed:
		return fmt.Sprintf("worker failed to launch: %v", r.Err)
	case LaneReportedBlocked:
		if r.Report != nil && r.Report.Summary != "" {
			return "worker reported blocked: " + r.Report.Summary
		}
		return "worker reported blocked"
	default:
		return string(r.Outcome)
	}
}

// Round records what one Step did.
type Round struct {
	Number        int
	Lanes         []LaneResult
	Exhausted     []string // Tasks moved to the exhausted set while assigning this round
	Outcome       RoundOutcome
	Checkpoint    *checkpoint.Result
	CheckpointErr error
	Completed     int // Ledger totals after collection
	Pending       int
	StartedAt     time.Time
	EndedAt       time.Time
}

// Ran reports whether any lane was assigned in this round.
func (r Round) Ran() bool {
	return len(r.Lanes) > 0
}

// Reportable reports whether the round has anything to record: lanes, or
// tasks that ran out of retries while assigning it.
func (r Round) Reportable() bool {
	return r.Ran() || len(r.Exhausted) > 0
}

// Result is the end of a run.
type Result struct {
	State  RunState
	Rounds []Round
}

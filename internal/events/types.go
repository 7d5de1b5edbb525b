package events

import (
	"strings"
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
}

// Topic constants
const (
	TopicRound      = "round"
	TopicLane       = "lane"
	TopicCheckpoint = "checkpoint"
	TopicPush       = "push"
	TopicRun        = "run"
)

// Event type constants
const (
	EventTypeRoundStarted      = "round.started"
	EventTypeLaneLaunched      = "lane.launched"
	EventTypeLaneFinished      = "lane.finished"
	EventTypeRoundCompleted    = "round.completed"
	EventTypeCheckpointCreated = "checkpoint.created"
	EventTypeCheckpointNoop    = "checkpoint.noop"
	EventTypePushFailed        = "push.failed"
	EventTypePushCircuit       = "push.circuit"
	EventTypeRunFinished       = "run.finished"
)

// TopicOf returns the topic an event type belongs to ("lane.finished" -> "lane").
func TopicOf(eventType string) string {
	topic, _, _ := strings.Cut(eventType, ".")
	return topic
}

// RoundStartedEvent is published once assignments for a round are known.
type RoundStartedEvent struct {
	Round     int
	Tasks     []string // Assigned task text, lane order
	Exhausted []string // Tasks skipped this round for exhausting their retry budget
	Timestamp time.Time
}

func (e RoundStartedEvent) EventType() string { return EventTypeRoundStarted }

// LaneLaunchedEvent is published when a worker process starts.
type LaneLaunchedEvent struct {
	Round     int
	Lane      int
	WorkerID  string
	Task      string
	Attempt   int
	PID       int
	Timestamp time.Time
}

func (e LaneLaunchedEvent) EventType() string { return EventTypeLaneLaunched }

// LaneFinishedEvent is published when a lane reaches an outcome.
type LaneFinishedEvent struct {
	Round     int
	Lane      int
	WorkerID  string
	Task      string
	Outcome   string // completed, timed_out, process_exited, launch_failed
	Summary   string
	Duration  time.Duration
	Timestamp time.Time
}

func (e LaneFinishedEvent) EventType() string { return EventTypeLaneFinished }

// RoundCompletedEvent is published after a round's checkpoint step.
type RoundCompletedEvent struct {
	Round     int
	Outcome   string // all_complete, partial, blocked, timeout
	Completed int    // Ledger totals after collection
	Pending   int
	Duration  time.Duration
	Timestamp time.Time
}

func (e RoundCompletedEvent) EventType() string { return EventTypeRoundCompleted }

// CheckpointCreatedEvent is published when a round commit lands locally.
type CheckpointCreatedEvent struct {
	Round     int
	Commit    string
	Pushed    bool
	Timestamp time.Time
}

func (e CheckpointCreatedEvent) EventType() string { return EventTypeCheckpointCreated }

// CheckpointNoopEvent is published when a round changed nothing.
type CheckpointNoopEvent struct {
	Round     int
	Timestamp time.Time
}

func (e CheckpointNoopEvent) EventType() string { return EventTypeCheckpointNoop }

// PushFailedEvent is published for every failed push. The local commit is kept.
type PushFailedEvent struct {
	Round               int
	Commit              string
	Err                 error
	ConsecutiveFailures int
	Timestamp           time.Time
}

func (e PushFailedEvent) EventType() string { return EventTypePushFailed }

// PushCircuitEvent is published when the push circuit breaker changes state.
type PushCircuitEvent struct {
	From      string
	To        string
	Timestamp time.Time
}

func (e PushCircuitEvent) EventType() string { return EventTypePushCircuit }

// RunFinishedEvent is published once when the scheduler stops.
type RunFinishedEvent struct {
	RunID     string
	Phase     string // done or blocked
	Reason    string
	Rounds    int
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }

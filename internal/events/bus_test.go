package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicLane, 10)

	bus.Publish(TopicLane, LaneLaunchedEvent{
		Round:     1,
		Lane:      2,
		WorkerID:  "R1L2",
		Task:      "Add health endpoint",
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.EventType() != EventTypeLaneLaunched {
			t.Errorf("expected event type '%s', got '%s'", EventTypeLaneLaunched, received.EventType())
		}
		if got := received.(LaneLaunchedEvent).WorkerID; got != "R1L2" {
			t.Errorf("expected worker 'R1L2', got '%s'", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestEmitRoutesByTypePrefix verifies Emit picks the topic from the event type.
func TestEmitRoutesByTypePrefix(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	pushCh := bus.Subscribe(TopicPush, 10)
	roundCh := bus.Subscribe(TopicRound, 10)

	bus.Emit(PushCircuitEvent{From: "closed", To: "open"})
	bus.Emit(RoundCompletedEvent{Round: 3, Outcome: "partial"})

	select {
	case e := <-pushCh:
		if e.EventType() != EventTypePushCircuit {
			t.Errorf("push topic got %s", e.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("push event not routed")
	}

	select {
	case e := <-roundCh:
		if e.(RoundCompletedEvent).Round != 3 {
			t.Errorf("unexpected round event %+v", e)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("round event not routed")
	}

	select {
	case e := <-pushCh:
		t.Errorf("push subscriber received foreign event %s", e.EventType())
	default:
	}
}

func TestTopicOf(t *testing.T) {
	tests := map[string]string{
		EventTypeRoundStarted:   TopicRound,
		EventTypeLaneFinished:   TopicLane,
		EventTypeCheckpointNoop: TopicCheckpoint,
		EventTypePushFailed:     TopicPush,
		EventTypeRunFinished:    TopicRun,
		"untyped":               "untyped",
	}
	for eventType, want := range tests {
		if got := TopicOf(eventType); got != want {
			t.Errorf("TopicOf(%q) = %q, want %q", eventType, got, want)
		}
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicCheckpoint, 10)
	ch2 := bus.Subscribe(TopicCheckpoint, 10)

	bus.Emit(CheckpointCreatedEvent{Round: 2, Commit: "abc123", Timestamp: time.Now()})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.(CheckpointCreatedEvent).Commit != "abc123" {
				t.Errorf("subscriber %d: unexpected event %+v", i+1, received)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies a full subscriber never blocks the publisher.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicLane, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(LaneFinishedEvent{Round: 1, Lane: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked on a full subscriber")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicRun, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close()

	for range ch {
		t.Error("expected no events after close")
	}
	for range all {
		t.Error("expected no events after close")
	}

	// Subscribing after close yields a closed channel.
	if _, ok := <-bus.Subscribe(TopicRun, 1); ok {
		t.Error("expected closed channel from Subscribe after Close")
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	bus.Emit(RunFinishedEvent{RunID: "r1", Phase: "done"})
}

// TestNilBus verifies a nil bus can be used as a sink.
func TestNilBus(t *testing.T) {
	var bus *EventBus
	bus.Emit(CheckpointNoopEvent{Round: 1})
	bus.Close()
}

// TestSubscribeAll verifies all-topic subscribers see every event in order.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	all := bus.SubscribeAll(10)

	bus.Emit(RoundStartedEvent{Round: 1, Tasks: []string{"a", "b"}})
	bus.Emit(PushFailedEvent{Round: 1, ConsecutiveFailures: 1})
	bus.Emit(RunFinishedEvent{RunID: "r1", Phase: "done"})

	want := []string{EventTypeRoundStarted, EventTypePushFailed, EventTypeRunFinished}
	for i, w := range want {
		select {
		case e := <-all:
			if e.EventType() != w {
				t.Errorf("event %d: got %s, want %s", i, e.EventType(), w)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

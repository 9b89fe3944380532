package stream

import (
	"time"
)

// EventType tags the kinds of push events delivered to connected clients.
type EventType string

const (
	EventTimeUpdate  EventType = "time_update"
	EventTestPaused  EventType = "test_paused"
	EventTestResumed EventType = "test_resumed"
	EventTestEnded   EventType = "test_ended"
)

// Event is the closed set of push payloads. Each variant carries its own
// fields instead of a shared loosely-typed body; the Kind method doubles as
// the union tag.
type Event interface {
	Kind() EventType
}

// TimeUpdate is pushed on every countdown tick of a running test.
type TimeUpdate struct {
	Type             EventType `json:"type"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	RemainingMs      int64     `json:"remaining_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

func (TimeUpdate) Kind() EventType { return EventTimeUpdate }

// TestPaused is pushed when a test pauses; the remaining budget it carries is
// frozen until the test resumes.
type TestPaused struct {
	Type             EventType `json:"type"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	RemainingMs      int64     `json:"remaining_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

func (TestPaused) Kind() EventType { return EventTestPaused }

// TestResumed is pushed when a paused test resumes counting down.
type TestResumed struct {
	Type             EventType `json:"type"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	RemainingMs      int64     `json:"remaining_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

func (TestResumed) Kind() EventType { return EventTestResumed }

// TestEnded is the terminal push; publishing it also closes the channel.
type TestEnded struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (TestEnded) Kind() EventType { return EventTestEnded }

func NewTimeUpdate(remaining time.Duration) TimeUpdate {
	ms := remaining.Milliseconds()
	return TimeUpdate{
		Type:             EventTimeUpdate,
		RemainingSeconds: ceilSeconds(ms),
		RemainingMs:      ms,
		Timestamp:        time.Now(),
	}
}

func NewTestPaused(remaining time.Duration) TestPaused {
	ms := remaining.Milliseconds()
	return TestPaused{
		Type:             EventTestPaused,
		RemainingSeconds: ceilSeconds(ms),
		RemainingMs:      ms,
		Timestamp:        time.Now(),
	}
}

func NewTestResumed(remaining time.Duration) TestResumed {
	ms := remaining.Milliseconds()
	return TestResumed{
		Type:             EventTestResumed,
		RemainingSeconds: ceilSeconds(ms),
		RemainingMs:      ms,
		Timestamp:        time.Now(),
	}
}

func NewTestEnded() TestEnded {
	return TestEnded{
		Type:      EventTestEnded,
		Timestamp: time.Now(),
	}
}

// ceilSeconds rounds remaining milliseconds up, so a client showing whole
// seconds never displays 0 while time is actually left.
func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}

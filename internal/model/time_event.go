package model

import (
	"time"

	"github.com/google/uuid"
)

// TimeEventType enumerates the kinds of entries in a test's time journal.
type TimeEventType string

const (
	TimeEventStarted TimeEventType = "STARTED"
	TimeEventPaused  TimeEventType = "PAUSED"
	TimeEventResumed TimeEventType = "RESUMED"
	TimeEventEnded   TimeEventType = "ENDED"
)

// TimeEvent is one append-only entry in a test's event log. The log is the
// sole source of truth for elapsed and remaining time: exactly one STARTED
// per test, timestamps monotonic, PAUSED/RESUMED alternating, ENDED terminal.
type TimeEvent struct {
	ID         uuid.UUID     `json:"id"`
	TestID     uuid.UUID     `json:"test_id"`
	Type       TimeEventType `json:"type"`
	RecordedAt time.Time     `json:"recorded_at"`
}

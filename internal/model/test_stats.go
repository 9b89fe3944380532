package model

import (
	"time"

	"github.com/google/uuid"
)

// TestStats is the post-test aggregate computed by the stats worker after a
// test ends. Derived entirely from the event log and submitted answers.
type TestStats struct {
	TestID        uuid.UUID `json:"test_id"`
	TotalActiveMs int64     `json:"total_active_ms"`
	AnsweredCount int       `json:"answered_count"`
	ComputedAt    time.Time `json:"computed_at"`
}

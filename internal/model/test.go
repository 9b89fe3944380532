package model

import (
	"time"

	"github.com/google/uuid"
)

// TestStatus enumerates the lifecycle states of a test attempt.
type TestStatus string

const (
	TestStatusOnGoing TestStatus = "ON_GOING"
	TestStatusPaused  TestStatus = "PAUSED"
	TestStatusEnded   TestStatus = "ENDED"
)

// Active reports whether the status counts against the one-active-test-per-student rule.
func (s TestStatus) Active() bool {
	return s == TestStatusOnGoing || s == TestStatusPaused
}

// TestMode distinguishes proctored and unproctored attempts. The timing engine
// treats both identically; the mode is carried for downstream consumers.
type TestMode string

const (
	TestModeProctored   TestMode = "PROCTORED"
	TestModeUnproctored TestMode = "UNPROCTORED"
)

// Test represents one student's timed attempt at a test suite. Rows are never
// deleted; ended tests remain as immutable history for stats and review.
type Test struct {
	ID        uuid.UUID  `json:"id"`
	StudentID uuid.UUID  `json:"student_id"`
	SuiteID   uuid.UUID  `json:"suite_id"`
	Mode      TestMode   `json:"mode"`
	Status    TestStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StartTestRequest is the payload for starting a test attempt.
type StartTestRequest struct {
	Mode TestMode `json:"mode" binding:"omitempty,oneof=PROCTORED UNPROCTORED"`
}

// SubmitAnswerRequest is the payload for submitting (or re-submitting) an answer.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"required"`
	TimeRange  string `json:"time_range" binding:"required,max=64,timerange"`
	IsFlagged  bool   `json:"is_flagged"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmittedAnswer holds a student's answer to one question within a test.
// At most one row exists per (test, question); re-submissions update the row
// in place and append to TimeRanges.
type SubmittedAnswer struct {
	ID             uuid.UUID `json:"id"`
	TestID         uuid.UUID `json:"test_id"`
	QuestionID     uuid.UUID `json:"question_id"`
	AnswerProvided string    `json:"answer_provided"`
	IsFlagged      bool      `json:"is_flagged"`
	TimeRanges     []string  `json:"time_ranges"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Question represents a single suite question. EstimatedTimeMs contributes to
// the suite's total time budget at test start.
type Question struct {
	ID              uuid.UUID       `json:"id"`
	SuiteID         uuid.UUID       `json:"suite_id"`
	QuestionText    string          `json:"question_text"`
	Options         json.RawMessage `json:"options"`
	EstimatedTimeMs int64           `json:"estimated_time_in_ms"`
}

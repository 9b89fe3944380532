package model

import (
	"time"

	"github.com/google/uuid"
)

// TestSuite is a published set of questions a student can attempt.
type TestSuite struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

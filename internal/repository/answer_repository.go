package repository

import (
	"context"

	"github.com/courseloop/simulation-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnswerRepository handles submitted answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert stores an answer keyed by (test, question). A re-submission updates
// the existing row in place and appends the new time range; the row id never
// changes.
func (r *AnswerRepository) Upsert(ctx context.Context, testID, questionID uuid.UUID, answer string, isFlagged bool, timeRange string) (*model.SubmittedAnswer, error) {
	a := &model.SubmittedAnswer{}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submitted_answers (id, test_id, question_id, answer_provided, is_flagged, time_ranges)
		 VALUES ($1, $2, $3, $4, $5, ARRAY[$6::text])
		 ON CONFLICT (test_id, question_id) DO UPDATE
		 SET answer_provided = EXCLUDED.answer_provided,
		     is_flagged      = EXCLUDED.is_flagged,
		     time_ranges     = submitted_answers.time_ranges || EXCLUDED.time_ranges,
		     updated_at      = NOW()
		 RETURNING id, test_id, question_id, answer_provided, is_flagged, time_ranges, created_at, updated_at`,
		uuid.New(), testID, questionID, answer, isFlagged, timeRange,
	).Scan(&a.ID, &a.TestID, &a.QuestionID, &a.AnswerProvided, &a.IsFlagged, &a.TimeRanges, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByTest retrieves all answers submitted within a test.
func (r *AnswerRepository) ListByTest(ctx context.Context, testID uuid.UUID) ([]model.SubmittedAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, question_id, answer_provided, is_flagged, time_ranges, created_at, updated_at
		 FROM submitted_answers
		 WHERE test_id = $1
		 ORDER BY created_at ASC`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.SubmittedAnswer
	for rows.Next() {
		var a model.SubmittedAnswer
		if err := rows.Scan(&a.ID, &a.TestID, &a.QuestionID, &a.AnswerProvided, &a.IsFlagged, &a.TimeRanges, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

package repository

import (
	"context"

	"github.com/courseloop/simulation-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SuiteRepository handles test suite and question data access. Suite
// authoring lives elsewhere in the marketplace; this service only reads the
// projection it needs: eligibility and per-question time budgets.
type SuiteRepository struct {
	pool *pgxpool.Pool
}

// NewSuiteRepository creates a new SuiteRepository.
func NewSuiteRepository(pool *pgxpool.Pool) *SuiteRepository {
	return &SuiteRepository{pool: pool}
}

// StudentHasAccess reports whether the student is subscribed to a course
// exposing the suite.
func (r *SuiteRepository) StudentHasAccess(ctx context.Context, studentID, suiteID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM suite_subscriptions
		   WHERE student_id = $1 AND suite_id = $2
		 )`, studentID, suiteID,
	).Scan(&ok)
	return ok, err
}

// ListQuestions retrieves all questions of a suite.
func (r *SuiteRepository) ListQuestions(ctx context.Context, suiteID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, suite_id, question_text, options, estimated_time_in_ms
		 FROM questions
		 WHERE suite_id = $1
		 ORDER BY id`, suiteID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SuiteID, &q.QuestionText, &q.Options, &q.EstimatedTimeMs); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// TotalBudgetMs sums the estimated time over all questions of a suite. This
// is the immutable input of the elapsed-time calculator for every test bound
// to the suite.
func (r *SuiteRepository) TotalBudgetMs(ctx context.Context, suiteID uuid.UUID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(estimated_time_in_ms), 0)
		 FROM questions
		 WHERE suite_id = $1`, suiteID,
	).Scan(&total)
	return total, err
}

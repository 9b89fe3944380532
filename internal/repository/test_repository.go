package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courseloop/simulation-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestRepository handles test attempt data access. Tests are never deleted:
// ended attempts remain as immutable history.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// Create inserts a new test attempt together with its STARTED journal entry
// in one transaction. The two rows must land atomically: a test row without a
// STARTED event has no valid journal, so no later event could ever be
// appended to it. A partial unique index on active statuses backstops the
// one-active-test-per-student rule against concurrent starts the
// service-level check cannot see.
func (r *TestRepository) Create(ctx context.Context, t *model.Test, startedAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx,
		`INSERT INTO tests (id, student_id, suite_id, mode, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		t.ID, t.StudentID, t.SuiteID, t.Mode, t.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO time_events (id, test_id, type, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		uuid.New(), t.ID, model.TimeEventStarted, startedAt,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetForStudent retrieves a test only if it belongs to the student.
func (r *TestRepository) GetForStudent(ctx context.Context, testID, studentID uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, suite_id, mode, status, created_at, updated_at
		 FROM tests
		 WHERE id = $1 AND student_id = $2`, testID, studentID,
	).Scan(&t.ID, &t.StudentID, &t.SuiteID, &t.Mode, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByID retrieves a test regardless of owner. Internal callers only; the
// HTTP surface always scopes by student.
func (r *TestRepository) GetByID(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, suite_id, mode, status, created_at, updated_at
		 FROM tests
		 WHERE id = $1`, testID,
	).Scan(&t.ID, &t.StudentID, &t.SuiteID, &t.Mode, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FindActiveByStudent returns the student's ON_GOING or PAUSED test, or nil
// when there is none.
func (r *TestRepository) FindActiveByStudent(ctx context.Context, studentID uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, suite_id, mode, status, created_at, updated_at
		 FROM tests
		 WHERE student_id = $1 AND status IN ($2, $3)`,
		studentID, model.TestStatusOnGoing, model.TestStatusPaused,
	).Scan(&t.ID, &t.StudentID, &t.SuiteID, &t.Mode, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// UpdateStatus transitions a test's persisted status.
func (r *TestRepository) UpdateStatus(ctx context.Context, testID uuid.UUID, status model.TestStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tests SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, testID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

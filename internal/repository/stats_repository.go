package repository

import (
	"context"

	"github.com/courseloop/simulation-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatsRepository reads the post-test aggregates written by the stats worker.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// GetByTest retrieves the aggregate row for a test.
func (r *StatsRepository) GetByTest(ctx context.Context, testID uuid.UUID) (*model.TestStats, error) {
	s := &model.TestStats{}
	err := r.pool.QueryRow(ctx,
		`SELECT test_id, total_active_ms, answered_count, computed_at
		 FROM test_stats
		 WHERE test_id = $1`, testID,
	).Scan(&s.TestID, &s.TotalActiveMs, &s.AnsweredCount, &s.ComputedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/courseloop/simulation-backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// statsJob is the queue payload handed from test end to the stats worker.
type statsJob struct {
	TestID    string `json:"test_id"`
	StudentID string `json:"student_id"`
}

// StatsQueue enqueues ended tests for background aggregation.
type StatsQueue struct {
	rdb *redis.Client
}

// NewStatsQueue creates a new StatsQueue.
func NewStatsQueue(rdb *redis.Client) *StatsQueue {
	return &StatsQueue{rdb: rdb}
}

// Enqueue pushes a stats job onto the worker queue.
func (q *StatsQueue) Enqueue(ctx context.Context, testID, studentID uuid.UUID) error {
	raw, err := json.Marshal(statsJob{
		TestID:    testID.String(),
		StudentID: studentID.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal stats job: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistStatsQueue, raw).Err()
}

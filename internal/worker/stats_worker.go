package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/courseloop/simulation-backend/internal/config"
	"github.com/courseloop/simulation-backend/internal/model"
	"github.com/courseloop/simulation-backend/internal/timekeeper"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	StatsBatchSize    = 50
	StatsBatchTimeout = 2 * time.Second
	StatsPollTimeout  = 1 * time.Second
)

// StatsWorker consumes ended tests from the Redis queue and materializes
// per-test aggregates (total active time, answered count) from the event
// journal and submitted answers.
type StatsWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewStatsWorker creates a new StatsWorker.
func NewStatsWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *StatsWorker {
	return &StatsWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "stats_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *StatsWorker) Start(ctx context.Context) {
	w.log.Info().Msg("StatsWorker started")

	batch := make([]*statsJob, 0, StatsBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= StatsBatchSize || time.Since(lastFlush) >= StatsBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, StatsPollTimeout, config.WorkerKey.PersistStatsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var j statsJob
			if err := json.Unmarshal([]byte(item[1]), &j); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &j)
		}
	}
}

// ----------------------------------------------------------------
// Flush with per-job fallback and requeue
// ----------------------------------------------------------------

func (w *StatsWorker) flushSafe(ctx context.Context, batch []*statsJob) {
	for _, j := range batch {
		if err := w.computeAndPersist(ctx, j); err != nil {
			w.log.Error().Err(err).Str("test_id", j.TestID).Msg("Stats computation failed — requeueing")
			raw, _ := json.Marshal(j)
			w.rdb.RPush(ctx, config.WorkerKey.PersistStatsQueue, raw)
		}
	}
}

// computeAndPersist derives one test's aggregates from its journal and
// answers, then upserts them. Re-running a job is harmless: the upsert simply
// recomputes the same row.
func (w *StatsWorker) computeAndPersist(ctx context.Context, j *statsJob) error {
	testID, err := uuid.Parse(j.TestID)
	if err != nil {
		return err
	}

	events, err := w.loadEvents(ctx, testID)
	if err != nil {
		return err
	}

	// Active time up to the journal's last event; for an ended test that is
	// the ENDED timestamp, so the result is final.
	var totalActive time.Duration
	if len(events) > 0 {
		last := events[len(events)-1].RecordedAt
		totalActive, err = timekeeper.ActiveTime(events, last)
		if err != nil {
			return err
		}
	}

	var answered int
	if err := w.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submitted_answers WHERE test_id = $1`, testID,
	).Scan(&answered); err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`INSERT INTO test_stats (test_id, total_active_ms, answered_count, computed_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (test_id) DO UPDATE
		 SET total_active_ms = EXCLUDED.total_active_ms,
		     answered_count  = EXCLUDED.answered_count,
		     computed_at     = NOW()`,
		testID, totalActive.Milliseconds(), answered)
	if err != nil {
		return err
	}

	w.log.Debug().
		Str("test_id", j.TestID).
		Int64("total_active_ms", totalActive.Milliseconds()).
		Int("answered_count", answered).
		Msg("Stats persisted")
	return nil
}

func (w *StatsWorker) loadEvents(ctx context.Context, testID uuid.UUID) ([]model.TimeEvent, error) {
	rows, err := w.pool.Query(ctx,
		`SELECT id, test_id, type, recorded_at
		 FROM time_events
		 WHERE test_id = $1
		 ORDER BY recorded_at ASC, id ASC`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.TimeEvent
	for rows.Next() {
		var ev model.TimeEvent
		if err := rows.Scan(&ev.ID, &ev.TestID, &ev.Type, &ev.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

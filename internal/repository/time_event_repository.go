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

// ErrInvariantViolation indicates an append that would corrupt a test's time
// journal: a duplicate STARTED, an out-of-order timestamp, a broken
// PAUSED/RESUMED alternation, or a write after ENDED. This is a programming
// or clock error, not a user-recoverable condition.
var ErrInvariantViolation = errors.New("time event violates journal invariants")

// TimeEventRepository handles the append-only time journal. Events are never
// updated or deleted.
type TimeEventRepository struct {
	pool *pgxpool.Pool
}

// NewTimeEventRepository creates a new TimeEventRepository.
func NewTimeEventRepository(pool *pgxpool.Pool) *TimeEventRepository {
	return &TimeEventRepository{pool: pool}
}

// Append validates and inserts one journal entry inside a transaction. The
// parent test row is locked first so concurrent appends for the same test
// serialize; out-of-order or structurally invalid writes are rejected with
// ErrInvariantViolation rather than silently reordered.
func (r *TimeEventRepository) Append(ctx context.Context, testID uuid.UUID, eventType model.TimeEventType, recordedAt time.Time) (*model.TimeEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err := tx.QueryRow(ctx,
		`SELECT id FROM tests WHERE id = $1 FOR UPDATE`, testID,
	).Scan(&locked); err != nil {
		return nil, err
	}

	var lastType model.TimeEventType
	var lastAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT type, recorded_at FROM time_events
		 WHERE test_id = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT 1`, testID,
	).Scan(&lastType, &lastAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if eventType != model.TimeEventStarted {
			return nil, fmt.Errorf("%w: %s before STARTED", ErrInvariantViolation, eventType)
		}
	case err != nil:
		return nil, err
	default:
		if err := validateNext(lastType, lastAt, eventType, recordedAt); err != nil {
			return nil, err
		}
	}

	ev := &model.TimeEvent{
		ID:         uuid.New(),
		TestID:     testID,
		Type:       eventType,
		RecordedAt: recordedAt,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO time_events (id, test_id, type, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		ev.ID, ev.TestID, ev.Type, ev.RecordedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ev, nil
}

// ListByTest retrieves a test's full journal in recorded order.
func (r *TimeEventRepository) ListByTest(ctx context.Context, testID uuid.UUID) ([]model.TimeEvent, error) {
	rows, err := r.pool.Query(ctx,
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

// validateNext enforces the journal shape: timestamps monotonic per test,
// exactly one STARTED, PAUSED only while running, RESUMED only while paused,
// nothing after ENDED.
func validateNext(prevType model.TimeEventType, prevAt time.Time, next model.TimeEventType, at time.Time) error {
	if at.Before(prevAt) {
		return fmt.Errorf("%w: %s at %s precedes last event at %s",
			ErrInvariantViolation, next, at.Format(time.RFC3339Nano), prevAt.Format(time.RFC3339Nano))
	}
	if prevType == model.TimeEventEnded {
		return fmt.Errorf("%w: %s after ENDED", ErrInvariantViolation, next)
	}

	switch next {
	case model.TimeEventStarted:
		return fmt.Errorf("%w: duplicate STARTED", ErrInvariantViolation)
	case model.TimeEventPaused:
		if prevType != model.TimeEventStarted && prevType != model.TimeEventResumed {
			return fmt.Errorf("%w: PAUSED after %s", ErrInvariantViolation, prevType)
		}
	case model.TimeEventResumed:
		if prevType != model.TimeEventPaused {
			return fmt.Errorf("%w: RESUMED after %s", ErrInvariantViolation, prevType)
		}
	case model.TimeEventEnded:
		// Allowed after any non-ENDED event.
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvariantViolation, next)
	}
	return nil
}

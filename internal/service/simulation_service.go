package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/courseloop/simulation-backend/internal/model"
	"github.com/courseloop/simulation-backend/internal/scheduler"
	"github.com/courseloop/simulation-backend/internal/stream"
	"github.com/courseloop/simulation-backend/internal/timekeeper"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// pgUniqueViolation is the Postgres error code for a unique index violation.
const pgUniqueViolation = "23505"

// TestStore is the slice of the test repository the simulation service needs.
// Create persists the test together with its STARTED journal entry.
type TestStore interface {
	Create(ctx context.Context, t *model.Test, startedAt time.Time) error
	GetForStudent(ctx context.Context, testID, studentID uuid.UUID) (*model.Test, error)
	GetByID(ctx context.Context, testID uuid.UUID) (*model.Test, error)
	FindActiveByStudent(ctx context.Context, studentID uuid.UUID) (*model.Test, error)
	UpdateStatus(ctx context.Context, testID uuid.UUID, status model.TestStatus) error
}

// EventStore appends to and reads the per-test time journal.
type EventStore interface {
	Append(ctx context.Context, testID uuid.UUID, eventType model.TimeEventType, recordedAt time.Time) (*model.TimeEvent, error)
	ListByTest(ctx context.Context, testID uuid.UUID) ([]model.TimeEvent, error)
}

// AnswerStore persists submitted answers.
type AnswerStore interface {
	Upsert(ctx context.Context, testID, questionID uuid.UUID, answer string, isFlagged bool, timeRange string) (*model.SubmittedAnswer, error)
	ListByTest(ctx context.Context, testID uuid.UUID) ([]model.SubmittedAnswer, error)
}

// SuiteStore reads suite metadata and questions.
type SuiteStore interface {
	StudentHasAccess(ctx context.Context, studentID, suiteID uuid.UUID) (bool, error)
	ListQuestions(ctx context.Context, suiteID uuid.UUID) ([]model.Question, error)
	TotalBudgetMs(ctx context.Context, suiteID uuid.UUID) (int64, error)
}

// BudgetCache caches each test's immutable total time budget.
type BudgetCache interface {
	Get(ctx context.Context, testID uuid.UUID) (int64, bool)
	Set(ctx context.Context, testID uuid.UUID, budgetMs int64)
}

// StatsQueue hands ended tests to the background stats worker.
type StatsQueue interface {
	Enqueue(ctx context.Context, testID, studentID uuid.UUID) error
}

// StatsStore reads the aggregates the stats worker produced.
type StatsStore interface {
	GetByTest(ctx context.Context, testID uuid.UUID) (*model.TestStats, error)
}

// ReconnectAction tells a reconnecting client what state it came back to.
type ReconnectAction string

const (
	ReconnectNotStarted ReconnectAction = "test_not_started"
	ReconnectResumed    ReconnectAction = "test_resumed"
	ReconnectPaused     ReconnectAction = "test_paused"
	ReconnectEnded      ReconnectAction = "test_ended"
)

// ReconnectResult is the synchronous half of a reconnection handshake; the
// matching push event goes out on the client's stream channel.
type ReconnectResult struct {
	Test      *model.Test
	Action    ReconnectAction
	Remaining time.Duration
}

// SimulationService drives the test lifecycle: start, pause, resume, end,
// answers, and reconnection. The persisted time journal is the source of
// truth for all time math; countdowns and stream channels are rebuildable
// process state.
type SimulationService struct {
	tests   TestStore
	events  EventStore
	answers AnswerStore
	suites  SuiteStore
	budgets BudgetCache
	queue   StatsQueue
	stats   StatsStore

	sched    *scheduler.Scheduler
	registry *stream.Registry
	log      zerolog.Logger

	// now is swappable in tests.
	now func() time.Time

	// locks serializes lifecycle transitions per test.
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewSimulationService creates a new SimulationService.
func NewSimulationService(
	tests TestStore,
	events EventStore,
	answers AnswerStore,
	suites SuiteStore,
	budgets BudgetCache,
	queue StatsQueue,
	stats StatsStore,
	sched *scheduler.Scheduler,
	registry *stream.Registry,
	log zerolog.Logger,
) *SimulationService {
	return &SimulationService{
		tests:    tests,
		events:   events,
		answers:  answers,
		suites:   suites,
		budgets:  budgets,
		queue:    queue,
		stats:    stats,
		sched:    sched,
		registry: registry,
		log:      log.With().Str("component", "simulation_service").Logger(),
		now:      time.Now,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// testLock returns the mutex guarding one test's lifecycle transitions.
func (s *SimulationService) testLock(testID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[testID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[testID] = mu
	}
	return mu
}

// StartTest creates a test attempt against a subscribed suite, journals the
// STARTED event, and arms the countdown. At most one active test per student.
func (s *SimulationService) StartTest(ctx context.Context, studentID, suiteID uuid.UUID, mode model.TestMode) (*model.Test, error) {
	ok, err := s.suites.StudentHasAccess(ctx, studentID, suiteID)
	if err != nil {
		return nil, fmt.Errorf("check suite access: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	active, err := s.tests.FindActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("find active test: %w", err)
	}
	if active != nil {
		return nil, ErrConflict
	}

	if mode == "" {
		mode = model.TestModeUnproctored
	}
	startedAt := s.now()
	test := &model.Test{
		ID:        uuid.New(),
		StudentID: studentID,
		SuiteID:   suiteID,
		Mode:      mode,
		Status:    model.TestStatusOnGoing,
	}
	if err := s.tests.Create(ctx, test, startedAt); err != nil {
		// Two concurrent starts can both pass the active check; the loser
		// trips the partial unique index and is a conflict, not a failure.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create test: %w", err)
	}

	budget, err := s.budget(ctx, test.ID, suiteID)
	if err != nil {
		return nil, err
	}

	s.armCountdown(test.ID, startedAt.Add(budget))

	s.log.Info().
		Str("test_id", test.ID.String()).
		Str("student_id", studentID.String()).
		Dur("budget", budget).
		Msg("Test started")

	return test, nil
}

// PauseTest freezes a running test's clock. The frozen remaining budget is
// pushed to connected clients and will not shrink until resume.
func (s *SimulationService) PauseTest(ctx context.Context, studentID, testID uuid.UUID) (*model.Test, error) {
	mu := s.testLock(testID)
	mu.Lock()
	defer mu.Unlock()

	test, err := s.getOwned(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	switch test.Status {
	case model.TestStatusEnded:
		return nil, ErrTestEnded
	case model.TestStatusPaused:
		return nil, ErrTestPaused
	}

	if _, err := s.events.Append(ctx, testID, model.TimeEventPaused, s.now()); err != nil {
		return nil, fmt.Errorf("journal pause: %w", err)
	}
	if err := s.tests.UpdateStatus(ctx, testID, model.TestStatusPaused); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	test.Status = model.TestStatusPaused

	s.sched.Cancel(testID)

	remaining, err := s.remaining(ctx, test)
	if err != nil {
		return nil, err
	}
	s.registry.Broadcast(testID, stream.NewTestPaused(remaining))

	s.log.Info().Str("test_id", testID.String()).Dur("remaining", remaining).Msg("Test paused")
	return test, nil
}

// ResumeTest restarts a paused test's clock from its frozen remaining budget.
func (s *SimulationService) ResumeTest(ctx context.Context, studentID, testID uuid.UUID) (*model.Test, error) {
	mu := s.testLock(testID)
	mu.Lock()
	defer mu.Unlock()

	test, err := s.getOwned(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	switch test.Status {
	case model.TestStatusEnded:
		return nil, ErrTestEnded
	case model.TestStatusOnGoing:
		return test, nil
	}

	if _, err := s.events.Append(ctx, testID, model.TimeEventResumed, s.now()); err != nil {
		return nil, fmt.Errorf("journal resume: %w", err)
	}
	if err := s.tests.UpdateStatus(ctx, testID, model.TestStatusOnGoing); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	test.Status = model.TestStatusOnGoing

	endTime, remaining, err := s.deadline(ctx, test)
	if err != nil {
		return nil, err
	}
	s.armCountdown(testID, endTime)
	s.registry.Broadcast(testID, stream.NewTestResumed(remaining))

	s.log.Info().Str("test_id", testID.String()).Dur("remaining", remaining).Msg("Test resumed")
	return test, nil
}

// EndTest terminates a test. Idempotent: ending an already-ended test returns
// it unchanged so that a manual submit racing the expiry timer cannot fail.
func (s *SimulationService) EndTest(ctx context.Context, studentID, testID uuid.UUID) (*model.Test, error) {
	mu := s.testLock(testID)
	mu.Lock()
	defer mu.Unlock()

	test, err := s.getOwned(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	return s.endLocked(ctx, test)
}

// endLocked finishes a test whose lifecycle lock is already held.
func (s *SimulationService) endLocked(ctx context.Context, test *model.Test) (*model.Test, error) {
	if test.Status == model.TestStatusEnded {
		return test, nil
	}

	if _, err := s.events.Append(ctx, test.ID, model.TimeEventEnded, s.now()); err != nil {
		return nil, fmt.Errorf("journal end: %w", err)
	}
	if err := s.tests.UpdateStatus(ctx, test.ID, model.TestStatusEnded); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	test.Status = model.TestStatusEnded

	s.sched.Cancel(test.ID)
	s.registry.Broadcast(test.ID, stream.NewTestEnded())

	if err := s.queue.Enqueue(ctx, test.ID, test.StudentID); err != nil {
		// Stats are best effort; the journal and answers survive for a
		// later recompute.
		s.log.Warn().Err(err).Str("test_id", test.ID.String()).Msg("Failed to enqueue stats job")
	}

	s.log.Info().Str("test_id", test.ID.String()).Msg("Test ended")
	return test, nil
}

// expireTest is the countdown's onExpire callback.
func (s *SimulationService) expireTest(testID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mu := s.testLock(testID)
	mu.Lock()
	defer mu.Unlock()

	test, err := s.getByID(ctx, testID)
	if err != nil {
		s.log.Error().Err(err).Str("test_id", testID.String()).Msg("Expiry could not load test")
		return
	}
	if _, err := s.endLocked(ctx, test); err != nil {
		s.log.Error().Err(err).Str("test_id", testID.String()).Msg("Expiry could not end test")
	}
}

// SubmitAnswer stores or revises an answer on a running test. It holds the
// test's lifecycle lock so the status check cannot interleave with a
// concurrent pause or end; no answer lands after the session is terminal.
func (s *SimulationService) SubmitAnswer(ctx context.Context, studentID, testID uuid.UUID, req *model.SubmitAnswerRequest) (*model.SubmittedAnswer, error) {
	mu := s.testLock(testID)
	mu.Lock()
	defer mu.Unlock()

	test, err := s.getOwned(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	switch test.Status {
	case model.TestStatusEnded:
		return nil, ErrTestEnded
	case model.TestStatusPaused:
		return nil, ErrTestPaused
	}

	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return nil, ErrNotFound
	}
	inSuite, err := s.questionInSuite(ctx, test.SuiteID, questionID)
	if err != nil {
		return nil, err
	}
	if !inSuite {
		return nil, ErrNotFound
	}

	answer, err := s.answers.Upsert(ctx, testID, questionID, req.Answer, req.IsFlagged, req.TimeRange)
	if err != nil {
		return nil, fmt.Errorf("upsert answer: %w", err)
	}
	return answer, nil
}

// GetQuestion picks a random unanswered question from the test's suite.
func (s *SimulationService) GetQuestion(ctx context.Context, studentID, testID uuid.UUID) (*model.Question, error) {
	test, err := s.getOwned(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	switch test.Status {
	case model.TestStatusEnded:
		return nil, ErrTestEnded
	case model.TestStatusPaused:
		return nil, ErrTestPaused
	}

	questions, err := s.suites.ListQuestions(ctx, test.SuiteID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.answers.ListByTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	answered := make(map[uuid.UUID]bool, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = true
	}
	remaining := questions[:0:0]
	for _, q := range questions {
		if !answered[q.ID] {
			remaining = append(remaining, q)
		}
	}
	if len(remaining) == 0 {
		return nil, ErrComplete
	}

	q := remaining[rand.IntN(len(remaining))]
	return &q, nil
}

// GetAttemptedAnswers lists everything the student has submitted so far.
func (s *SimulationService) GetAttemptedAnswers(ctx context.Context, studentID, testID uuid.UUID) ([]model.SubmittedAnswer, error) {
	test, err := s.getOwned(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if test.Status == model.TestStatusEnded {
		return nil, ErrTestEnded
	}
	return s.answers.ListByTest(ctx, testID)
}

// GetTestStats returns the worker-computed aggregates for an ended test.
func (s *SimulationService) GetTestStats(ctx context.Context, studentID, testID uuid.UUID) (*model.TestStats, error) {
	test, err := s.getOwned(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if test.Status != model.TestStatusEnded {
		return nil, ErrTestNotEnded
	}

	stats, err := s.stats.GetByTest(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The worker has not caught up yet.
			return nil, ErrNotFound
		}
		return nil, err
	}
	return stats, nil
}

// GetActiveTest returns the student's current ON_GOING or PAUSED test with
// its live remaining budget, or ErrNotFound when there is none.
func (s *SimulationService) GetActiveTest(ctx context.Context, studentID uuid.UUID) (*model.Test, time.Duration, error) {
	test, err := s.tests.FindActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, 0, fmt.Errorf("find active test: %w", err)
	}
	if test == nil {
		return nil, 0, ErrNotFound
	}
	remaining, err := s.remaining(ctx, test)
	if err != nil {
		return nil, 0, err
	}
	return test, remaining, nil
}

// Reconnect restores a client's live view of a test after a connection drop.
// It re-arms the countdown if this process lost it, ends tests that expired
// while nobody was watching, and pushes one state event on the freshly opened
// channel under key.
func (s *SimulationService) Reconnect(ctx context.Context, studentID, testID uuid.UUID, key stream.Key) (*ReconnectResult, error) {
	mu := s.testLock(testID)
	mu.Lock()
	defer mu.Unlock()

	test, err := s.tests.GetForStudent(ctx, testID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ReconnectResult{Action: ReconnectNotStarted}, nil
		}
		return nil, err
	}

	switch test.Status {
	case model.TestStatusEnded:
		s.registry.Publish(key, stream.NewTestEnded())
		return &ReconnectResult{Test: test, Action: ReconnectEnded}, nil

	case model.TestStatusPaused:
		remaining, err := s.remaining(ctx, test)
		if err != nil {
			return nil, err
		}
		s.registry.Publish(key, stream.NewTestPaused(remaining))
		return &ReconnectResult{Test: test, Action: ReconnectPaused, Remaining: remaining}, nil

	default: // ON_GOING
		endTime, remaining, err := s.deadline(ctx, test)
		if err != nil {
			return nil, err
		}
		if remaining <= 0 {
			ended, err := s.endLocked(ctx, test)
			if err != nil {
				return nil, err
			}
			s.registry.Publish(key, stream.NewTestEnded())
			return &ReconnectResult{Test: ended, Action: ReconnectEnded}, nil
		}
		s.armCountdown(testID, endTime)
		s.registry.Publish(key, stream.NewTimeUpdate(remaining))
		return &ReconnectResult{Test: test, Action: ReconnectResumed, Remaining: remaining}, nil
	}
}

// armCountdown (re)arms the scheduler for a test. Ticks broadcast the live
// remaining budget; expiry ends the test through the normal path.
func (s *SimulationService) armCountdown(testID uuid.UUID, endTime time.Time) {
	s.sched.Arm(testID,
		endTime,
		func(remaining time.Duration) {
			s.registry.Broadcast(testID, stream.NewTimeUpdate(remaining))
		},
		func() {
			s.expireTest(testID)
		},
	)
}

// budget returns the test's total time budget, reading through the cache.
func (s *SimulationService) budget(ctx context.Context, testID, suiteID uuid.UUID) (time.Duration, error) {
	if ms, ok := s.budgets.Get(ctx, testID); ok {
		return time.Duration(ms) * time.Millisecond, nil
	}
	ms, err := s.suites.TotalBudgetMs(ctx, suiteID)
	if err != nil {
		return 0, fmt.Errorf("sum budget: %w", err)
	}
	s.budgets.Set(ctx, testID, ms)
	return time.Duration(ms) * time.Millisecond, nil
}

// deadline derives a running test's end time and remaining budget from its
// journal.
func (s *SimulationService) deadline(ctx context.Context, test *model.Test) (time.Time, time.Duration, error) {
	events, err := s.events.ListByTest(ctx, test.ID)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("list events: %w", err)
	}
	budget, err := s.budget(ctx, test.ID, test.SuiteID)
	if err != nil {
		return time.Time{}, 0, err
	}
	endTime, err := timekeeper.EndTime(events, budget)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("compute end time: %w", err)
	}
	remaining, err := timekeeper.Remaining(events, budget, s.now())
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("compute remaining: %w", err)
	}
	return endTime, remaining, nil
}

// remaining derives a test's remaining budget in any status.
func (s *SimulationService) remaining(ctx context.Context, test *model.Test) (time.Duration, error) {
	events, err := s.events.ListByTest(ctx, test.ID)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}
	budget, err := s.budget(ctx, test.ID, test.SuiteID)
	if err != nil {
		return 0, err
	}
	remaining, err := timekeeper.Remaining(events, budget, s.now())
	if err != nil {
		return 0, fmt.Errorf("compute remaining: %w", err)
	}
	return remaining, nil
}

// getOwned loads a test scoped to its owner, mapping a miss to ErrNotFound.
func (s *SimulationService) getOwned(ctx context.Context, testID, studentID uuid.UUID) (*model.Test, error) {
	test, err := s.tests.GetForStudent(ctx, testID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return test, nil
}

// getByID loads a test by id alone; used by internal callbacks that have no
// student context.
func (s *SimulationService) getByID(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	test, err := s.tests.GetByID(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return test, nil
}

func (s *SimulationService) questionInSuite(ctx context.Context, suiteID, questionID uuid.UUID) (bool, error) {
	questions, err := s.suites.ListQuestions(ctx, suiteID)
	if err != nil {
		return false, fmt.Errorf("list questions: %w", err)
	}
	for _, q := range questions {
		if q.ID == questionID {
			return true, nil
		}
	}
	return false, nil
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/courseloop/simulation-backend/internal/model"
	"github.com/courseloop/simulation-backend/internal/scheduler"
	"github.com/courseloop/simulation-backend/internal/stream"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// In-memory fakes. They mirror the repository contracts, including returning
// pgx.ErrNoRows on misses, so the service's errors.Is mapping is exercised.

type fakeTestStore struct {
	mu        sync.Mutex
	tests     map[uuid.UUID]*model.Test
	events    *fakeEventStore
	createErr error
}

func newFakeTestStore(events *fakeEventStore) *fakeTestStore {
	return &fakeTestStore{tests: make(map[uuid.UUID]*model.Test), events: events}
}

// Create mirrors the repository contract: the test row and its STARTED
// journal entry persist atomically or not at all.
func (f *fakeTestStore) Create(_ context.Context, t *model.Test, startedAt time.Time) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	cp := *t
	f.tests[t.ID] = &cp
	f.mu.Unlock()
	_, err := f.events.Append(context.Background(), t.ID, model.TimeEventStarted, startedAt)
	return err
}

func (f *fakeTestStore) GetForStudent(_ context.Context, testID, studentID uuid.UUID) (*model.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tests[testID]
	if !ok || t.StudentID != studentID {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTestStore) GetByID(_ context.Context, testID uuid.UUID) (*model.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tests[testID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTestStore) FindActiveByStudent(_ context.Context, studentID uuid.UUID) (*model.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tests {
		if t.StudentID == studentID && t.Status.Active() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeTestStore) UpdateStatus(_ context.Context, testID uuid.UUID, status model.TestStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tests[testID]
	if !ok {
		return pgx.ErrNoRows
	}
	t.Status = status
	return nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID][]model.TimeEvent
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[uuid.UUID][]model.TimeEvent)}
}

func (f *fakeEventStore) Append(_ context.Context, testID uuid.UUID, eventType model.TimeEventType, at time.Time) (*model.TimeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := model.TimeEvent{ID: uuid.New(), TestID: testID, Type: eventType, RecordedAt: at}
	f.events[testID] = append(f.events[testID], ev)
	return &ev, nil
}

func (f *fakeEventStore) ListByTest(_ context.Context, testID uuid.UUID) ([]model.TimeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.TimeEvent, len(f.events[testID]))
	copy(out, f.events[testID])
	return out, nil
}

type fakeAnswerStore struct {
	mu      sync.Mutex
	answers map[uuid.UUID]map[uuid.UUID]*model.SubmittedAnswer
}

func newFakeAnswerStore() *fakeAnswerStore {
	return &fakeAnswerStore{answers: make(map[uuid.UUID]map[uuid.UUID]*model.SubmittedAnswer)}
}

func (f *fakeAnswerStore) Upsert(_ context.Context, testID, questionID uuid.UUID, answer string, isFlagged bool, timeRange string) (*model.SubmittedAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byQ, ok := f.answers[testID]
	if !ok {
		byQ = make(map[uuid.UUID]*model.SubmittedAnswer)
		f.answers[testID] = byQ
	}
	if a, ok := byQ[questionID]; ok {
		a.AnswerProvided = answer
		a.IsFlagged = isFlagged
		a.TimeRanges = append(a.TimeRanges, timeRange)
		a.UpdatedAt = time.Now()
		cp := *a
		return &cp, nil
	}
	a := &model.SubmittedAnswer{
		ID:             uuid.New(),
		TestID:         testID,
		QuestionID:     questionID,
		AnswerProvided: answer,
		IsFlagged:      isFlagged,
		TimeRanges:     []string{timeRange},
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	byQ[questionID] = a
	cp := *a
	return &cp, nil
}

func (f *fakeAnswerStore) ListByTest(_ context.Context, testID uuid.UUID) ([]model.SubmittedAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SubmittedAnswer
	for _, a := range f.answers[testID] {
		out = append(out, *a)
	}
	return out, nil
}

type fakeSuiteStore struct {
	suiteID   uuid.UUID
	studentID uuid.UUID
	questions []model.Question
	budgetMs  int64
}

func (f *fakeSuiteStore) StudentHasAccess(_ context.Context, studentID, suiteID uuid.UUID) (bool, error) {
	return studentID == f.studentID && suiteID == f.suiteID, nil
}

func (f *fakeSuiteStore) ListQuestions(_ context.Context, suiteID uuid.UUID) ([]model.Question, error) {
	if suiteID != f.suiteID {
		return nil, nil
	}
	return f.questions, nil
}

func (f *fakeSuiteStore) TotalBudgetMs(_ context.Context, suiteID uuid.UUID) (int64, error) {
	if suiteID != f.suiteID {
		return 0, nil
	}
	return f.budgetMs, nil
}

type fakeBudgetCache struct {
	mu      sync.Mutex
	budgets map[uuid.UUID]int64
}

func newFakeBudgetCache() *fakeBudgetCache {
	return &fakeBudgetCache{budgets: make(map[uuid.UUID]int64)}
}

func (f *fakeBudgetCache) Get(_ context.Context, testID uuid.UUID) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ms, ok := f.budgets[testID]
	return ms, ok
}

func (f *fakeBudgetCache) Set(_ context.Context, testID uuid.UUID, ms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.budgets[testID] = ms
}

type fakeStatsQueue struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
}

func (f *fakeStatsQueue) Enqueue(_ context.Context, testID, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, testID)
	return nil
}

func (f *fakeStatsQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

type fakeStatsStore struct {
	stats map[uuid.UUID]*model.TestStats
}

func (f *fakeStatsStore) GetByTest(_ context.Context, testID uuid.UUID) (*model.TestStats, error) {
	if f.stats == nil {
		return nil, pgx.ErrNoRows
	}
	s, ok := f.stats[testID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

type fixture struct {
	svc       *SimulationService
	tests     *fakeTestStore
	events    *fakeEventStore
	answers   *fakeAnswerStore
	suite     *fakeSuiteStore
	queue     *fakeStatsQueue
	stats     *fakeStatsStore
	registry  *stream.Registry
	studentID uuid.UUID
	suiteID   uuid.UUID
	clock     *fakeClock
}

// fakeClock lets tests move simulated time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, budgetMs int64) *fixture {
	t.Helper()

	studentID := uuid.New()
	suiteID := uuid.New()
	questions := []model.Question{
		{ID: uuid.New(), SuiteID: suiteID, QuestionText: "q1", EstimatedTimeMs: budgetMs / 2},
		{ID: uuid.New(), SuiteID: suiteID, QuestionText: "q2", EstimatedTimeMs: budgetMs / 2},
	}

	log := zerolog.Nop()
	sched := scheduler.New(log, time.Hour) // ticks never fire during tests
	t.Cleanup(sched.Shutdown)
	registry := stream.NewRegistry(log)
	t.Cleanup(registry.Shutdown)

	events := newFakeEventStore()
	f := &fixture{
		tests:   newFakeTestStore(events),
		events:  events,
		answers: newFakeAnswerStore(),
		suite: &fakeSuiteStore{
			suiteID:   suiteID,
			studentID: studentID,
			questions: questions,
			budgetMs:  budgetMs,
		},
		queue:     &fakeStatsQueue{},
		stats:     &fakeStatsStore{},
		registry:  registry,
		studentID: studentID,
		suiteID:   suiteID,
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = NewSimulationService(
		f.tests, f.events, f.answers, f.suite,
		newFakeBudgetCache(), f.queue, f.stats,
		sched, registry, log,
	)
	f.svc.now = f.clock.Now
	return f
}

func TestStartTestJournalsAndArms(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, err := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	if err != nil {
		t.Fatalf("StartTest: %v", err)
	}
	if test.Status != model.TestStatusOnGoing {
		t.Fatalf("status = %s, want ON_GOING", test.Status)
	}

	events, _ := f.events.ListByTest(ctx, test.ID)
	if len(events) != 1 || events[0].Type != model.TimeEventStarted {
		t.Fatalf("journal = %+v, want single STARTED", events)
	}
}

func TestStartTestRejectsSecondActive(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	if _, err := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored); err != nil {
		t.Fatalf("first StartTest: %v", err)
	}
	_, err := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second StartTest err = %v, want ErrConflict", err)
	}
}

func TestStartTestUnknownSuite(t *testing.T) {
	f := newFixture(t, 20_000)

	_, err := f.svc.StartTest(context.Background(), f.studentID, uuid.New(), model.TestModeUnproctored)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// Scenario: run 6s of a 20s budget, pause for an hour, resume. Remaining must
// freeze at 14s through the pause and shrink again only after resume.
func TestPauseFreezesRemaining(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, err := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	if err != nil {
		t.Fatalf("StartTest: %v", err)
	}

	f.clock.Advance(6 * time.Second)
	if _, err := f.svc.PauseTest(ctx, f.studentID, test.ID); err != nil {
		t.Fatalf("PauseTest: %v", err)
	}

	f.clock.Advance(time.Hour)
	got, remaining, err := f.svc.GetActiveTest(ctx, f.studentID)
	if err != nil {
		t.Fatalf("GetActiveTest: %v", err)
	}
	if got.Status != model.TestStatusPaused {
		t.Fatalf("status = %s, want PAUSED", got.Status)
	}
	if remaining != 14*time.Second {
		t.Fatalf("remaining while paused = %v, want 14s", remaining)
	}

	if _, err := f.svc.ResumeTest(ctx, f.studentID, test.ID); err != nil {
		t.Fatalf("ResumeTest: %v", err)
	}
	f.clock.Advance(4 * time.Second)
	_, remaining, err = f.svc.GetActiveTest(ctx, f.studentID)
	if err != nil {
		t.Fatalf("GetActiveTest after resume: %v", err)
	}
	if remaining != 10*time.Second {
		t.Fatalf("remaining after resume = %v, want 10s", remaining)
	}
}

func TestPauseRequiresRunning(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	if _, err := f.svc.PauseTest(ctx, f.studentID, test.ID); err != nil {
		t.Fatalf("PauseTest: %v", err)
	}
	if _, err := f.svc.PauseTest(ctx, f.studentID, test.ID); !errors.Is(err, ErrTestPaused) {
		t.Fatalf("double pause err = %v, want ErrTestPaused", err)
	}
}

func TestEndTestIsIdempotent(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)

	ended, err := f.svc.EndTest(ctx, f.studentID, test.ID)
	if err != nil {
		t.Fatalf("EndTest: %v", err)
	}
	if ended.Status != model.TestStatusEnded {
		t.Fatalf("status = %s, want ENDED", ended.Status)
	}

	again, err := f.svc.EndTest(ctx, f.studentID, test.ID)
	if err != nil {
		t.Fatalf("second EndTest: %v", err)
	}
	if again.Status != model.TestStatusEnded {
		t.Fatalf("second end status = %s, want ENDED", again.Status)
	}

	events, _ := f.events.ListByTest(ctx, test.ID)
	var endedCount int
	for _, ev := range events {
		if ev.Type == model.TimeEventEnded {
			endedCount++
		}
	}
	if endedCount != 1 {
		t.Fatalf("ENDED events = %d, want exactly 1", endedCount)
	}
	if f.queue.count() != 1 {
		t.Fatalf("stats jobs = %d, want exactly 1", f.queue.count())
	}
}

func TestSubmitAnswerUpserts(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	q := f.suite.questions[0]

	first, err := f.svc.SubmitAnswer(ctx, f.studentID, test.ID, &model.SubmitAnswerRequest{
		QuestionID: q.ID.String(),
		Answer:     "A",
		TimeRange:  "0-5000",
	})
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	second, err := f.svc.SubmitAnswer(ctx, f.studentID, test.ID, &model.SubmitAnswerRequest{
		QuestionID: q.ID.String(),
		Answer:     "B",
		TimeRange:  "9000-12000",
		IsFlagged:  true,
	})
	if err != nil {
		t.Fatalf("re-SubmitAnswer: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-submission created a new row")
	}
	if second.AnswerProvided != "B" || !second.IsFlagged {
		t.Fatalf("answer = %+v, want revised B flagged", second)
	}
	if len(second.TimeRanges) != 2 {
		t.Fatalf("time ranges = %v, want both ranges kept", second.TimeRanges)
	}
}

func TestSubmitAnswerRejectedByStatus(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	q := f.suite.questions[0]
	req := &model.SubmitAnswerRequest{QuestionID: q.ID.String(), Answer: "A", TimeRange: "0-1"}

	f.svc.PauseTest(ctx, f.studentID, test.ID)
	if _, err := f.svc.SubmitAnswer(ctx, f.studentID, test.ID, req); !errors.Is(err, ErrTestPaused) {
		t.Fatalf("paused submit err = %v, want ErrTestPaused", err)
	}

	f.svc.ResumeTest(ctx, f.studentID, test.ID)
	f.svc.EndTest(ctx, f.studentID, test.ID)
	if _, err := f.svc.SubmitAnswer(ctx, f.studentID, test.ID, req); !errors.Is(err, ErrTestEnded) {
		t.Fatalf("ended submit err = %v, want ErrTestEnded", err)
	}
}

func TestSubmitAnswerUnknownQuestion(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	_, err := f.svc.SubmitAnswer(ctx, f.studentID, test.ID, &model.SubmitAnswerRequest{
		QuestionID: uuid.New().String(),
		Answer:     "A",
		TimeRange:  "0-1",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetQuestionSkipsAnswered(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	q0 := f.suite.questions[0]
	f.svc.SubmitAnswer(ctx, f.studentID, test.ID, &model.SubmitAnswerRequest{
		QuestionID: q0.ID.String(), Answer: "A", TimeRange: "0-1",
	})

	next, err := f.svc.GetQuestion(ctx, f.studentID, test.ID)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if next.ID != f.suite.questions[1].ID {
		t.Fatalf("got question %s, want the unanswered one", next.ID)
	}

	f.svc.SubmitAnswer(ctx, f.studentID, test.ID, &model.SubmitAnswerRequest{
		QuestionID: next.ID.String(), Answer: "B", TimeRange: "1-2",
	})
	if _, err := f.svc.GetQuestion(ctx, f.studentID, test.ID); !errors.Is(err, ErrComplete) {
		t.Fatalf("exhausted err = %v, want ErrComplete", err)
	}
}

func TestGetAttemptedAnswersRejectsEnded(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	f.svc.EndTest(ctx, f.studentID, test.ID)

	if _, err := f.svc.GetAttemptedAnswers(ctx, f.studentID, test.ID); !errors.Is(err, ErrTestEnded) {
		t.Fatalf("err = %v, want ErrTestEnded", err)
	}
}

func TestGetTestStats(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)

	if _, err := f.svc.GetTestStats(ctx, f.studentID, test.ID); !errors.Is(err, ErrTestNotEnded) {
		t.Fatalf("running stats err = %v, want ErrTestNotEnded", err)
	}

	f.svc.EndTest(ctx, f.studentID, test.ID)

	// Worker has not run yet.
	if _, err := f.svc.GetTestStats(ctx, f.studentID, test.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pre-worker stats err = %v, want ErrNotFound", err)
	}

	f.stats.stats = map[uuid.UUID]*model.TestStats{
		test.ID: {TestID: test.ID, TotalActiveMs: 6000, AnsweredCount: 1},
	}
	stats, err := f.svc.GetTestStats(ctx, f.studentID, test.ID)
	if err != nil {
		t.Fatalf("GetTestStats: %v", err)
	}
	if stats.TotalActiveMs != 6000 {
		t.Fatalf("TotalActiveMs = %d, want 6000", stats.TotalActiveMs)
	}
}

func TestReconnectRunning(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	f.clock.Advance(5 * time.Second)

	key := stream.Key{TestID: test.ID, ClientID: "c1"}
	ch := f.registry.Open(key)

	res, err := f.svc.Reconnect(ctx, f.studentID, test.ID, key)
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if res.Action != ReconnectResumed {
		t.Fatalf("action = %s, want %s", res.Action, ReconnectResumed)
	}
	if res.Remaining != 15*time.Second {
		t.Fatalf("remaining = %v, want 15s", res.Remaining)
	}

	select {
	case ev := <-ch:
		if ev.Kind() != stream.EventTimeUpdate {
			t.Fatalf("pushed %s, want time_update", ev.Kind())
		}
	default:
		t.Fatal("no event pushed on reconnect")
	}
}

func TestReconnectPaused(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	f.clock.Advance(6 * time.Second)
	f.svc.PauseTest(ctx, f.studentID, test.ID)
	f.clock.Advance(time.Hour)

	key := stream.Key{TestID: test.ID, ClientID: "c1"}
	ch := f.registry.Open(key)

	res, err := f.svc.Reconnect(ctx, f.studentID, test.ID, key)
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if res.Action != ReconnectPaused {
		t.Fatalf("action = %s, want %s", res.Action, ReconnectPaused)
	}
	if res.Remaining != 14*time.Second {
		t.Fatalf("remaining = %v, want frozen 14s", res.Remaining)
	}

	select {
	case ev := <-ch:
		if ev.Kind() != stream.EventTestPaused {
			t.Fatalf("pushed %s, want test_paused", ev.Kind())
		}
	default:
		t.Fatal("no event pushed on reconnect")
	}
}

// A test whose budget ran out while the process was not ticking must be ended
// on reconnect, not resumed with negative time.
func TestReconnectExpiredEndsTest(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, _ := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	f.clock.Advance(time.Hour)

	key := stream.Key{TestID: test.ID, ClientID: "c1"}
	ch := f.registry.Open(key)

	res, err := f.svc.Reconnect(ctx, f.studentID, test.ID, key)
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if res.Action != ReconnectEnded {
		t.Fatalf("action = %s, want %s", res.Action, ReconnectEnded)
	}
	if res.Test.Status != model.TestStatusEnded {
		t.Fatalf("status = %s, want ENDED", res.Test.Status)
	}

	ev, ok := <-ch
	if !ok {
		t.Fatal("channel closed before delivering test_ended")
	}
	if ev.Kind() != stream.EventTestEnded {
		t.Fatalf("pushed %s, want test_ended", ev.Kind())
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after test_ended")
	}
}

func TestReconnectUnknownTest(t *testing.T) {
	f := newFixture(t, 20_000)

	key := stream.Key{TestID: uuid.New(), ClientID: "c1"}
	res, err := f.svc.Reconnect(context.Background(), f.studentID, key.TestID, key)
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if res.Action != ReconnectNotStarted {
		t.Fatalf("action = %s, want %s", res.Action, ReconnectNotStarted)
	}
}

// A failed creation must leave nothing behind: no test row and no journal
// entries, so the student can immediately start again.
func TestStartTestCreateFailureLeavesNoJournal(t *testing.T) {
	f := newFixture(t, 20_000)
	f.tests.createErr = errors.New("connection reset")

	_, err := f.svc.StartTest(context.Background(), f.studentID, f.suiteID, model.TestModeUnproctored)
	if err == nil {
		t.Fatal("StartTest succeeded despite store failure")
	}

	f.tests.mu.Lock()
	stored := len(f.tests.tests)
	f.tests.mu.Unlock()
	if stored != 0 {
		t.Fatalf("tests stored = %d, want 0", stored)
	}
	f.events.mu.Lock()
	journals := len(f.events.events)
	f.events.mu.Unlock()
	if journals != 0 {
		t.Fatalf("journals written = %d, want 0", journals)
	}
}

// The loser of a concurrent start race trips the one-active-test unique
// index; that surfaces as a conflict, not an internal error.
func TestStartTestMapsUniqueViolationToConflict(t *testing.T) {
	f := newFixture(t, 20_000)
	f.tests.createErr = &pgconn.PgError{Code: "23505", ConstraintName: "idx_tests_one_active_per_student"}

	_, err := f.svc.StartTest(context.Background(), f.studentID, f.suiteID, model.TestModeUnproctored)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

// Expiry must end the test exactly once: status ENDED, a single ENDED journal
// entry, one stats job, and a terminal push on connected streams.
func TestExpiryEndsTestAndPushesEnded(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, err := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	if err != nil {
		t.Fatalf("StartTest: %v", err)
	}

	key := stream.Key{TestID: test.ID, ClientID: "c1"}
	ch := f.registry.Open(key)

	f.clock.Advance(time.Hour)
	f.svc.expireTest(test.ID)

	got, err := f.tests.GetByID(ctx, test.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.TestStatusEnded {
		t.Fatalf("status = %s, want ENDED", got.Status)
	}

	ev, ok := <-ch
	if !ok {
		t.Fatal("channel closed before delivering test_ended")
	}
	if ev.Kind() != stream.EventTestEnded {
		t.Fatalf("pushed %s, want test_ended", ev.Kind())
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after test_ended")
	}

	// A late duplicate firing is a no-op.
	f.svc.expireTest(test.ID)

	events, _ := f.events.ListByTest(ctx, test.ID)
	var endedCount int
	for _, e := range events {
		if e.Type == model.TimeEventEnded {
			endedCount++
		}
	}
	if endedCount != 1 {
		t.Fatalf("ENDED events = %d, want exactly 1", endedCount)
	}
	if f.queue.count() != 1 {
		t.Fatalf("stats jobs = %d, want exactly 1", f.queue.count())
	}
}

// A submit racing a lifecycle transition must wait for the test's lock and
// then observe the final status; it can never land after the end.
func TestSubmitAnswerWaitsForLifecycleLock(t *testing.T) {
	f := newFixture(t, 20_000)
	ctx := context.Background()

	test, err := f.svc.StartTest(ctx, f.studentID, f.suiteID, model.TestModeUnproctored)
	if err != nil {
		t.Fatalf("StartTest: %v", err)
	}
	q := f.suite.questions[0]

	mu := f.svc.testLock(test.ID)
	mu.Lock()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.SubmitAnswer(ctx, f.studentID, test.ID, &model.SubmitAnswerRequest{
			QuestionID: q.ID.String(),
			Answer:     "A",
			TimeRange:  "0-1000",
		})
		done <- err
	}()

	select {
	case <-done:
		mu.Unlock()
		t.Fatal("submit did not wait for the lifecycle lock")
	case <-time.After(50 * time.Millisecond):
	}

	// End the test while still holding the lock, as EndTest would.
	held, err := f.tests.GetByID(ctx, test.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if _, err := f.svc.endLocked(ctx, held); err != nil {
		mu.Unlock()
		t.Fatalf("endLocked: %v", err)
	}
	mu.Unlock()

	if err := <-done; !errors.Is(err, ErrTestEnded) {
		t.Fatalf("submit after end err = %v, want ErrTestEnded", err)
	}
	answers, _ := f.answers.ListByTest(ctx, test.ID)
	if len(answers) != 0 {
		t.Fatalf("answers stored = %d, want 0", len(answers))
	}
}

func TestGetActiveTestNone(t *testing.T) {
	f := newFixture(t, 20_000)

	_, _, err := f.svc.GetActiveTest(context.Background(), f.studentID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

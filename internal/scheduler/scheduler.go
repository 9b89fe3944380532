// Package scheduler owns at most one live countdown per test. Countdowns are
// an in-memory optimization: everything they know is re-derivable from the
// persisted event journal, so losing them in a crash only suspends live
// ticking until the next reconnection.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler runs per-test countdown loops on a fixed cadence.
type Scheduler struct {
	mu       sync.Mutex
	active   map[uuid.UUID]*countdown
	interval time.Duration
	log      zerolog.Logger
}

type countdown struct {
	endTime time.Time
	stop    chan struct{}
	once    sync.Once
}

func (cd *countdown) cancel() {
	cd.once.Do(func() { close(cd.stop) })
}

// New creates a Scheduler ticking at the given interval (1s if non-positive).
func New(log zerolog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		active:   make(map[uuid.UUID]*countdown),
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Arm starts a countdown toward endTime for the test, cancelling any previous
// countdown under the same test first. On every tick before the deadline
// onTick receives the remaining duration; once the deadline passes, onExpire
// fires exactly once and the countdown removes itself.
func (s *Scheduler) Arm(testID uuid.UUID, endTime time.Time, onTick func(remaining time.Duration), onExpire func()) {
	cd := &countdown{endTime: endTime, stop: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.active[testID]; ok {
		prev.cancel()
	}
	s.active[testID] = cd
	s.mu.Unlock()

	go s.run(testID, cd, onTick, onExpire)

	s.log.Debug().
		Str("test_id", testID.String()).
		Time("end_time", endTime).
		Msg("Countdown armed")
}

// Cancel stops the test's countdown without firing callbacks. Safe to call
// repeatedly and safe to race against an in-flight expiry: whichever side
// disarms first wins, the other is a no-op.
func (s *Scheduler) Cancel(testID uuid.UUID) {
	s.mu.Lock()
	cd, ok := s.active[testID]
	if ok {
		delete(s.active, testID)
	}
	s.mu.Unlock()

	if ok {
		cd.cancel()
		s.log.Debug().Str("test_id", testID.String()).Msg("Countdown cancelled")
	}
}

// Active returns the number of live countdowns.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown cancels every live countdown. Called once at process teardown.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id, cd := range s.active {
		cd.cancel()
		delete(s.active, id)
	}
	s.mu.Unlock()
	s.log.Info().Msg("All countdowns cancelled")
}

func (s *Scheduler) run(testID uuid.UUID, cd *countdown, onTick func(remaining time.Duration), onExpire func()) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cd.stop:
			return
		case now := <-ticker.C:
			remaining := cd.endTime.Sub(now)
			if remaining <= 0 {
				// Only the still-registered countdown may expire; a
				// concurrent Cancel or superseding Arm turns this into a
				// lost race and the callback never fires.
				if !s.disarm(testID, cd) {
					return
				}
				s.invoke(testID, onExpire)
				return
			}
			s.invoke(testID, func() { onTick(remaining) })
		}
	}
}

// disarm removes cd if it is still the registered countdown for the test.
func (s *Scheduler) disarm(testID uuid.UUID, cd *countdown) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active[testID]
	if !ok || cur != cd {
		return false
	}
	delete(s.active, testID)
	cd.cancel()
	return true
}

// invoke shields the scheduler from panicking callbacks: one test's broken
// callback must not take down the other countdown loops.
func (s *Scheduler) invoke(testID uuid.UUID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("test_id", testID.String()).
				Interface("panic", r).
				Msg("Countdown callback panicked")
		}
	}()
	fn()
}

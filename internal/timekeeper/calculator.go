// Package timekeeper derives end time and remaining budget for a test purely
// from its ordered time-event journal. Every function is deterministic given
// (events, budget, now): a live scheduler tick and a cold restart replaying
// the same journal get the same answer.
package timekeeper

import (
	"errors"
	"sort"
	"time"

	"github.com/courseloop/simulation-backend/internal/model"
)

// ErrNoStartEvent indicates a journal without a STARTED entry. Such a journal
// cannot exist through the normal append path.
var ErrNoStartEvent = errors.New("timekeeper: event journal has no STARTED event")

// ErrNotRunning is returned by EndTime when the journal's last event leaves
// the test paused or ended. A paused test has no live deadline: its remaining
// budget is frozen until a RESUMED event lands.
var ErrNotRunning = errors.New("timekeeper: test is not running")

// ActiveTime returns the wall-clock time the test has spent running: the sum
// of intervals between each STARTED/RESUMED event and the following
// PAUSED/ENDED event. A trailing open interval (journal ends on STARTED or
// RESUMED) is closed with now.
func ActiveTime(events []model.TimeEvent, now time.Time) (time.Duration, error) {
	sorted := sortedByTime(events)

	started := false
	var total time.Duration
	var openSince time.Time
	open := false

	for _, ev := range sorted {
		switch ev.Type {
		case model.TimeEventStarted:
			started = true
			openSince = ev.RecordedAt
			open = true
		case model.TimeEventResumed:
			openSince = ev.RecordedAt
			open = true
		case model.TimeEventPaused, model.TimeEventEnded:
			if open {
				total += ev.RecordedAt.Sub(openSince)
				open = false
			}
		}
	}

	if !started {
		return 0, ErrNoStartEvent
	}
	if open {
		total += now.Sub(openSince)
	}
	if total < 0 {
		total = 0
	}
	return total, nil
}

// EndTime computes the live deadline of a running test. Three journal shapes
// are distinguished explicitly:
//
//   - never paused (last event STARTED): end = started + budget
//   - resumed (last event RESUMED):      end = resumed + (budget − active time
//     used before the resume)
//   - paused or ended: no live deadline, ErrNotRunning
//
// The paused case is deliberately not folded into the first branch: while a
// test sits paused its budget is frozen, so recomputing a deadline from the
// original start would silently leak paused wall-clock time into the countdown.
func EndTime(events []model.TimeEvent, budget time.Duration) (time.Time, error) {
	sorted := sortedByTime(events)
	if len(sorted) == 0 {
		return time.Time{}, ErrNoStartEvent
	}

	last := sorted[len(sorted)-1]
	switch last.Type {
	case model.TimeEventStarted:
		return last.RecordedAt.Add(budget), nil
	case model.TimeEventResumed:
		// Active time up to the resume moment: the trailing open interval
		// starts at the resume itself, so closing it there contributes zero.
		used, err := ActiveTime(sorted, last.RecordedAt)
		if err != nil {
			return time.Time{}, err
		}
		return last.RecordedAt.Add(budget - used), nil
	default:
		return time.Time{}, ErrNotRunning
	}
}

// Remaining computes how much of the budget is left at now.
//
//   - ended:    0
//   - paused:   frozen at budget − active time used up to the pause
//   - running:  budget − active time used, shrinking with now
//
// Never negative.
func Remaining(events []model.TimeEvent, budget time.Duration, now time.Time) (time.Duration, error) {
	sorted := sortedByTime(events)
	if len(sorted) == 0 {
		return 0, ErrNoStartEvent
	}

	if sorted[len(sorted)-1].Type == model.TimeEventEnded {
		return 0, nil
	}

	// For a paused journal ActiveTime has no open interval, so now does not
	// participate and the result stays constant for the whole pause.
	used, err := ActiveTime(sorted, now)
	if err != nil {
		return 0, err
	}

	remaining := budget - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// sortedByTime returns the events ordered by recorded_at without mutating the
// caller's slice. The store already orders them; sorting again is cheap and
// keeps the calculator total on arbitrary input.
func sortedByTime(events []model.TimeEvent) []model.TimeEvent {
	sorted := make([]model.TimeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordedAt.Before(sorted[j].RecordedAt)
	})
	return sorted
}

// Package stream routes push events to connected clients. The registry is a
// process-local cache of live cursors, not a durable log: clients that miss
// ticks recover state through reconnection, never through replay.
package stream

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Key identifies one client's channel for one test. A student reconnecting
// from a second device gets a distinct ClientID and a distinct channel.
type Key struct {
	TestID   uuid.UUID
	ClientID string
}

// channelBuffer absorbs short write stalls; beyond that, ticks are dropped
// rather than blocking the scheduler.
const channelBuffer = 8

// Registry maintains the outbound event channel per (test, client).
type Registry struct {
	mu       sync.Mutex
	channels map[Key]chan Event
	log      zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		channels: make(map[Key]chan Event),
		log:      log.With().Str("component", "stream_registry").Logger(),
	}
}

// Open registers a fresh channel under key, replacing and closing any prior
// channel under the same key so duplicate connections never stack.
func (r *Registry) Open(key Key) <-chan Event {
	ch := make(chan Event, channelBuffer)

	r.mu.Lock()
	if prev, ok := r.channels[key]; ok {
		close(prev)
	}
	r.channels[key] = ch
	r.mu.Unlock()

	r.log.Debug().
		Str("test_id", key.TestID.String()).
		Str("client_id", key.ClientID).
		Msg("Stream opened")

	return ch
}

// Release closes the channel under key only if ch is still the registered
// one. Connection handlers call this on teardown; a handler whose channel was
// already superseded by a newer connection must not close its successor.
func (r *Registry) Release(key Key, ch <-chan Event) {
	r.mu.Lock()
	cur, ok := r.channels[key]
	if ok && (<-chan Event)(cur) == ch {
		delete(r.channels, key)
		close(cur)
	}
	r.mu.Unlock()
}

// Publish delivers an event to the channel under key. Best effort: an absent
// or full channel drops the event silently — the client is simply not
// listening. A TestEnded event also closes the channel.
//
// The send happens under r.mu. Every close in this package also holds r.mu,
// so a publish can never hit a channel mid-close; it is already non-blocking,
// so holding the lock across it is safe.
func (r *Registry) Publish(key Key, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[key]
	if !ok {
		return
	}
	r.send(ch, ev)
	if ev.Kind() == EventTestEnded {
		delete(r.channels, key)
		close(ch)
	}
}

// Broadcast publishes an event to every client connected to the test. Sends
// and the terminal closes stay under r.mu for the same reason as Publish.
func (r *Registry) Broadcast(testID uuid.UUID, ev Event) {
	ended := ev.Kind() == EventTestEnded

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, ch := range r.channels {
		if key.TestID != testID {
			continue
		}
		r.send(ch, ev)
		if ended {
			delete(r.channels, key)
			close(ch)
		}
	}
}

// Close tears down the channel under key without sending anything.
func (r *Registry) Close(key Key) {
	r.mu.Lock()
	if ch, ok := r.channels[key]; ok {
		delete(r.channels, key)
		close(ch)
	}
	r.mu.Unlock()
}

// ActiveConnections returns the number of registered channels.
func (r *Registry) ActiveConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Shutdown closes every channel. Called once at process teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for key, ch := range r.channels {
		delete(r.channels, key)
		close(ch)
	}
	r.mu.Unlock()
	r.log.Info().Msg("All streams closed")
}

func (r *Registry) send(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		// Slow consumer: drop the event, reconnection recovers state.
	}
}

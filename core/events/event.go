package events

import (
	"sync"

	"github.com/nickbax/ump-auction-test/core/types"
)

// Event represents a structured state change emitted by the market engines.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans a single event out to several emitters in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Recorder keeps every emitted event in memory. Tests use it to assert on the
// committed event stream.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded payloads with the supplied type.
func (r *Recorder) OfType(eventType string) []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Event
	for _, evt := range r.events {
		if evt.EventType() != eventType {
			continue
		}
		if typed, ok := evt.(*types.Event); ok {
			out = append(out, typed)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

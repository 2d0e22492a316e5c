package events

import (
	"log/slog"
	"sync"
)

// Event is the minimal contract for anything emitted by the engines: a
// stable type tag plus flat string attributes suitable for logs, RPC
// subscribers, or metrics labels.
type Event interface {
	EventType() string
	Attributes() map[string]string
}

// Emitter receives engine events. Implementations must not block: the
// engines emit while holding their ledger lock.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event. It is the default wired into a new
// engine so event plumbing stays optional.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Recorder retains emitted events in order. Used by tests and by the
// RPC server's event buffer.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogEmitter writes events to a structured logger, one record per
// event with the attributes flattened.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(evt Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := evt.Attributes()
	args := make([]any, 0, 2*len(attrs)+2)
	args = append(args, "event", evt.EventType())
	for key, value := range attrs {
		args = append(args, key, value)
	}
	logger.Info("pool event", args...)
}

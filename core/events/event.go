package events

import (
	"sync"

	"bunnyriven/core/types"
)

// Event represents a structured state change emitted by a native module.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (receipt index, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record adapts a *types.Event to the Event interface.
type Record struct {
	Evt *types.Event
}

func (r Record) EventType() string {
	if r.Evt == nil {
		return ""
	}
	return r.Evt.Type
}

func (r Record) Event() *types.Event { return r.Evt }

// Payload extracts the *types.Event carried by evt, if any.
func Payload(evt Event) *types.Event {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return nil
	}
	return carrier.Event()
}

// Fanout forwards every event to each wrapped emitter in order.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Buffer holds events until Flush or Drop. Engines emit into a buffer during a
// call so that events from a reverted call never reach subscribers.
type Buffer struct {
	pending []Event
}

func (b *Buffer) Emit(evt Event) { b.pending = append(b.pending, evt) }

// Flush delivers the buffered events to dst and empties the buffer.
func (b *Buffer) Flush(dst Emitter) {
	pending := b.pending
	b.pending = nil
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// Drop discards the buffered events.
func (b *Buffer) Drop() { b.pending = nil }

// Recorder keeps every emitted event. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

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

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

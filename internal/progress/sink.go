package progress

import "context"

// Sink consumes batches of events. Consume must honor ctx deadlines and
// tolerate repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes single events. Hub implements it; workers depend only on
// this interface.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops every event.
type Discard struct{}

// Emit does nothing.
func (Discard) Emit(Event) {}

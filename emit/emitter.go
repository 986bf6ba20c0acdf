// Package emit provides pluggable observability for the Runtime:
// ambient logging, tracing, and metrics, kept entirely separate from
// the Event Log's durable history.
package emit

import "context"

// Emitter receives observability events. Implementations must be
// non-blocking and safe for concurrent use; a slow or failing emitter
// must never affect execution correctness.
type Emitter interface {
	// Emit sends a single event to the backend. Must not panic.
	Emit(event Event)

	// EmitBatch sends multiple events in one operation, preserving
	// order. Returns error only on catastrophic, configuration-level
	// failure — never for a single bad event.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events are delivered, or ctx is
	// done. Safe to call multiple times.
	Flush(ctx context.Context) error
}

// MultiEmitter fans one event out to several Emitters, so a Runtime
// host can combine e.g. a LogEmitter with an OTelEmitter without
// either depending on the other.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines the given emitters into one.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

func (m *MultiEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range m.emitters {
		if err := e.EmitBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiEmitter) Flush(ctx context.Context) error {
	for _, e := range m.emitters {
		if err := e.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

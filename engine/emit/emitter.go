// Package emit provides pluggable observability for the workflow engine:
// log output, OpenTelemetry spans, in-memory buffering for tests, and a
// discard sink.
package emit

import "context"

// Emitter receives Events from the engine drive loop. Implementations
// must not block the loop for long and must not panic.
type Emitter interface {
	// Emit records a single event.
	Emit(event Event)

	// EmitBatch records a batch of events, preserving order.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush ensures any buffered events reach their backend.
	Flush(ctx context.Context) error
}

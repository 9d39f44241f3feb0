package emit

import "context"

// NullEmitter discards every event. Useful when observability overhead is
// unwanted, or in tests that don't care about emitted events.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that discards everything.
func NewNullEmitter() NullEmitter { return NullEmitter{} }

// Emit is a no-op.
func (NullEmitter) Emit(Event) {}

// EmitBatch is a no-op.
func (NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

// Flush is a no-op.
func (NullEmitter) Flush(context.Context) error { return nil }

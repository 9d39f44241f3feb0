package emit

import (
	"context"
	"sync"
)

// BufferedEmitter keeps every event in memory, grouped by session, for
// inspection in tests and local debugging tools.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter returns an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends event under its SessionID.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.SessionID] = append(b.events[event.SessionID], event)
}

// EmitBatch appends every event in order.
func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		b.Emit(e)
	}
	return nil
}

// Flush is a no-op: events are already resident in memory.
func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of every event recorded for sessionID.
func (b *BufferedEmitter) History(sessionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.events[sessionID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// Clear discards all events recorded for sessionID.
func (b *BufferedEmitter) Clear(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, sessionID)
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStore wraps an Adapter with the typed read-modify-write contract
// the engine driver uses (spec §4.B). Update is the sole mutation path:
// callers never write a SessionState directly.
type SessionStore struct {
	adapter Adapter
	retry   RetryPolicy
}

// NewSessionStore builds a SessionStore over adapter. A zero RetryPolicy
// falls back to DefaultRetryPolicy.
func NewSessionStore(adapter Adapter, retry RetryPolicy) *SessionStore {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &SessionStore{adapter: adapter, retry: retry}
}

// Create persists a brand-new session seeded with the given workflow's
// root step and initial outputs, returning the generated session id.
// workflowID identifies which graph the adapter should resolve steps
// against; a single-graph adapter may ignore it.
func (s *SessionStore) Create(ctx context.Context, workflowID string, seed map[string]Value) (string, error) {
	_ = workflowID
	id := uuid.NewString()
	state := NewSessionState(id)
	if len(seed) > 0 {
		for step, v := range seed {
			state.Data.AppendOutput(step, v)
		}
		state.Data.AppendOutput("initial", Map(seed))
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("engine: marshal new session state: %w", err)
	}

	if err := s.adapter.CreateSessionNode(ctx, id, raw, time.Now()); err != nil {
		return "", fmt.Errorf("engine: create session %q: %w", id, err)
	}
	return id, nil
}

// Get returns a session's current state, or ok=false if it does not exist.
func (s *SessionStore) Get(ctx context.Context, id string) (*SessionState, bool, error) {
	raw, ok, err := s.adapter.ReadSessionState(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("engine: read session %q: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("engine: decode session %q state: %w", id, err)
	}
	return &state, true, nil
}

// Update is the sole mutation path for session state (spec §4.B). It reads
// the current state inside an adapter transaction, applies mutate, and
// writes the result back. Any error from a transaction attempt (an adapter
// conflict, a missing session, or an error returned by mutate) is retried
// under the store's RetryPolicy until it is exhausted, then surfaced.
func (s *SessionStore) Update(ctx context.Context, id string, mutate func(*SessionState) (*SessionState, error)) error {
	return s.retry.retry(ctx.Done(), nil, func() error {
		return s.adapter.RunTransaction(ctx, func(tx GraphTx) error {
			raw, ok, err := tx.ReadSessionState(ctx, id)
			if err != nil {
				return fmt.Errorf("engine: read session %q: %w", id, err)
			}
			if !ok {
				return fmt.Errorf("engine: update session %q: %w", id, ErrNotFound)
			}

			var state SessionState
			if err := json.Unmarshal(raw, &state); err != nil {
				return fmt.Errorf("engine: decode session %q state: %w", id, err)
			}

			next, err := mutate(&state)
			if err != nil {
				return err
			}

			out, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("engine: marshal session %q state: %w", id, err)
			}
			return tx.WriteSessionState(ctx, id, out)
		})
	})
}

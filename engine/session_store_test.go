package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeAdapter is a minimal in-memory Adapter for SessionStore tests. It can
// be told to fail RunTransaction a fixed number of times to exercise
// SessionStore.Update's retry path.
type fakeAdapter struct {
	mu        sync.Mutex
	sessions  map[string]json.RawMessage
	steps     map[string]StepRow
	edges     map[string][]EdgeRow
	failTimes int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		sessions: make(map[string]json.RawMessage),
		steps:    make(map[string]StepRow),
		edges:    make(map[string][]EdgeRow),
	}
}

func (f *fakeAdapter) GetStep(ctx context.Context, id string) (StepRow, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.steps[id]
	return row, ok, nil
}

func (f *fakeAdapter) GetOutgoing(ctx context.Context, id string) ([]EdgeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edges[id], nil
}

func (f *fakeAdapter) CreateSessionNode(ctx context.Context, id string, state json.RawMessage, createdAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; ok {
		return errors.New("fakeAdapter: session already exists")
	}
	f.sessions[id] = state
	return nil
}

func (f *fakeAdapter) ReadSessionState(ctx context.Context, id string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.sessions[id]
	return raw, ok, nil
}

func (f *fakeAdapter) WriteSessionState(ctx context.Context, id string, state json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = state
	return nil
}

var errFakeConflict = errors.New("fakeAdapter: conflict")

func (f *fakeAdapter) RunTransaction(ctx context.Context, body func(tx GraphTx) error) error {
	f.mu.Lock()
	if f.failTimes > 0 {
		f.failTimes--
		f.mu.Unlock()
		return errFakeConflict
	}
	f.mu.Unlock()
	return body(f)
}

func TestSessionStoreCreateSeedsOutputsAndInitial(t *testing.T) {
	store := NewSessionStore(newFakeAdapter(), RetryPolicy{MaxAttempts: 1})
	id, err := store.Create(context.Background(), "wf-1", map[string]Value{"name": Text("ada")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	state, ok, err := store.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if _, ok := state.Workflow[RootStepID]; !ok {
		t.Error("expected root step in workflow map")
	}
	nameOut, ok := state.LastOutput("name")
	nameStr, _ := nameOut.AsString()
	if !ok || nameStr != "ada" {
		t.Errorf("name output = %#v, ok=%v", nameOut, ok)
	}
	initialOut, ok := state.LastOutput("initial")
	if !ok {
		t.Fatal("expected 'initial' pseudo-output")
	}
	m, ok := initialOut.AsMap()
	nameField, _ := m["name"].AsString()
	if !ok || nameField != "ada" {
		t.Errorf("initial output = %#v", initialOut)
	}
}

func TestSessionStoreCreateWithoutSeedHasNoInitial(t *testing.T) {
	store := NewSessionStore(newFakeAdapter(), RetryPolicy{MaxAttempts: 1})
	id, err := store.Create(context.Background(), "wf-1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	state, _, _ := store.Get(context.Background(), id)
	if _, ok := state.LastOutput("initial"); ok {
		t.Error("did not expect an 'initial' output with no seed data")
	}
}

func TestSessionStoreGetMissingSession(t *testing.T) {
	store := NewSessionStore(newFakeAdapter(), RetryPolicy{MaxAttempts: 1})
	_, ok, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing session")
	}
}

func TestSessionStoreUpdateAppliesMutation(t *testing.T) {
	adapter := newFakeAdapter()
	store := NewSessionStore(adapter, RetryPolicy{MaxAttempts: 1})
	id, _ := store.Create(context.Background(), "wf-1", nil)

	err := store.Update(context.Background(), id, func(s *SessionState) (*SessionState, error) {
		s.Data.AppendOutput("step1", Text("done"))
		return s, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	state, _, _ := store.Get(context.Background(), id)
	out, ok := state.LastOutput("step1")
	outStr, _ := out.AsString()
	if !ok || outStr != "done" {
		t.Errorf("step1 output = %#v", out)
	}
}

func TestSessionStoreUpdateRetriesOnConflict(t *testing.T) {
	adapter := newFakeAdapter()
	store := NewSessionStore(adapter, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	id, _ := store.Create(context.Background(), "wf-1", nil)
	adapter.failTimes = 2 // fail the first two Update attempts, not Create

	err := store.Update(context.Background(), id, func(s *SessionState) (*SessionState, error) {
		s.Data.AppendOutput("step1", Bool(true))
		return s, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestSessionStoreUpdateExhaustsRetriesAndReturnsConflict(t *testing.T) {
	adapter := newFakeAdapter()
	store := NewSessionStore(adapter, RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	id, _ := store.Create(context.Background(), "wf-1", nil)
	adapter.failTimes = 10

	err := store.Update(context.Background(), id, func(s *SessionState) (*SessionState, error) {
		return s, nil
	})
	if !errors.Is(err, errFakeConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestSessionStoreUpdateMissingSessionReturnsNotFound(t *testing.T) {
	store := NewSessionStore(newFakeAdapter(), RetryPolicy{MaxAttempts: 1})
	err := store.Update(context.Background(), "missing", func(s *SessionState) (*SessionState, error) {
		return s, nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStoreUpdateMutatorErrorAbortsWrite(t *testing.T) {
	adapter := newFakeAdapter()
	store := NewSessionStore(adapter, RetryPolicy{MaxAttempts: 1})
	id, _ := store.Create(context.Background(), "wf-1", nil)

	sentinel := errors.New("mutator failed")
	err := store.Update(context.Background(), id, func(s *SessionState) (*SessionState, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	state, _, _ := store.Get(context.Background(), id)
	if len(state.Data.Messages) != 0 || len(state.Data.Outputs) != 0 {
		t.Error("state should be unchanged after a failed mutation")
	}
}

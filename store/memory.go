package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stepflow/stepflow/engine"
)

// MemoryAdapter is an in-memory engine.Adapter. Designed for tests and the
// zero-setup quickstart, grounded on the teacher's MemStore (mutex + map,
// no persistence across process restarts).
type MemoryAdapter struct {
	mu       sync.Mutex
	steps    map[string]engine.StepRow
	edges    map[string][]engine.EdgeRow
	sessions map[string]json.RawMessage
	edgeSeq  int
}

// NewMemoryAdapter returns an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		steps:    make(map[string]engine.StepRow),
		edges:    make(map[string][]engine.EdgeRow),
		sessions: make(map[string]json.RawMessage),
	}
}

// GetStep implements engine.GraphAdapter.
func (a *MemoryAdapter) GetStep(_ context.Context, id string) (engine.StepRow, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	row, ok := a.steps[id]
	return row, ok, nil
}

// GetOutgoing implements engine.GraphAdapter.
func (a *MemoryAdapter) GetOutgoing(_ context.Context, id string) ([]engine.EdgeRow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows := append([]engine.EdgeRow(nil), a.edges[id]...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Priority != rows[j].Priority {
			return rows[i].Priority < rows[j].Priority
		}
		return rows[i].Seq < rows[j].Seq
	})
	return rows, nil
}

// CreateSessionNode implements engine.SessionAdapter.
func (a *MemoryAdapter) CreateSessionNode(_ context.Context, id string, state json.RawMessage, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.sessions[id]; exists {
		return fmt.Errorf("store: session %q already exists", id)
	}
	a.sessions[id] = append(json.RawMessage(nil), state...)
	return nil
}

// ReadSessionState implements engine.SessionAdapter.
func (a *MemoryAdapter) ReadSessionState(_ context.Context, id string) (json.RawMessage, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	raw, ok := a.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), raw...), true, nil
}

// WriteSessionState implements engine.SessionAdapter.
func (a *MemoryAdapter) WriteSessionState(_ context.Context, id string, state json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[id] = append(json.RawMessage(nil), state...)
	return nil
}

// RunTransaction implements engine.Adapter. The whole adapter shares a
// single mutex, so a transaction body sees a consistent snapshot and no
// other goroutine can interleave a write; this is the in-memory analogue of
// the SQL adapters' row-locking transaction (spec §4.A).
func (a *MemoryAdapter) RunTransaction(ctx context.Context, body func(tx engine.GraphTx) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return body(memoryTx{a})
}

// memoryTx adapts MemoryAdapter's already-locked methods to engine.GraphTx
// without re-acquiring the mutex RunTransaction already holds.
type memoryTx struct{ a *MemoryAdapter }

func (tx memoryTx) GetStep(_ context.Context, id string) (engine.StepRow, bool, error) {
	row, ok := tx.a.steps[id]
	return row, ok, nil
}

func (tx memoryTx) GetOutgoing(_ context.Context, id string) ([]engine.EdgeRow, error) {
	rows := append([]engine.EdgeRow(nil), tx.a.edges[id]...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Priority != rows[j].Priority {
			return rows[i].Priority < rows[j].Priority
		}
		return rows[i].Seq < rows[j].Seq
	})
	return rows, nil
}

func (tx memoryTx) CreateSessionNode(_ context.Context, id string, state json.RawMessage, _ time.Time) error {
	if _, exists := tx.a.sessions[id]; exists {
		return fmt.Errorf("store: session %q already exists", id)
	}
	tx.a.sessions[id] = append(json.RawMessage(nil), state...)
	return nil
}

func (tx memoryTx) ReadSessionState(_ context.Context, id string) (json.RawMessage, bool, error) {
	raw, ok := tx.a.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), raw...), true, nil
}

func (tx memoryTx) WriteSessionState(_ context.Context, id string, state json.RawMessage) error {
	tx.a.sessions[id] = append(json.RawMessage(nil), state...)
	return nil
}

// LoadSeed implements Loader, populating steps and edges directly (spec
// §3.1 graph definition). Edge priorities are copied from the seed; each
// edge's Seq is assigned in insertion order for deterministic tie-breaking
// (spec §4.F).
func (a *MemoryAdapter) LoadSeed(seed Seed) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range seed.Steps {
		var raw json.RawMessage
		if s.InputTemplate != nil {
			b, err := json.Marshal(s.InputTemplate)
			if err != nil {
				return fmt.Errorf("store: marshal step %q input: %w", s.ID, err)
			}
			raw = b
		}
		a.steps[s.ID] = engine.StepRow{
			ID:            s.ID,
			Function:      s.Function,
			InputTemplate: raw,
			Description:   s.Description,
			Tags:          s.Tags,
		}
	}

	for _, e := range seed.Edges {
		var cond json.RawMessage
		if e.Condition != nil {
			raw, err := json.Marshal(e.Condition)
			if err != nil {
				return fmt.Errorf("store: marshal edge %s->%s condition: %w", e.From, e.To, err)
			}
			cond = raw
		}
		a.edgeSeq++
		a.edges[e.From] = append(a.edges[e.From], engine.EdgeRow{
			From:      e.From,
			To:        e.To,
			Condition: cond,
			Operator:  e.Operator,
			Priority:  e.Priority,
			Seq:       a.edgeSeq,
		})
	}
	return nil
}

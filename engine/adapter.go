package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by adapter lookups for an id that does not exist.
var ErrNotFound = errors.New("engine: not found")

// StepRow is a graph step exactly as stored: JSON fields left undecoded so
// GraphAdapter implementations need not import this package's condition or
// resolve packages, only encoding/json (spec §4.A: "the adapter returns raw
// strings and the engine parses them").
type StepRow struct {
	ID string
	// Function is the step's `function` attribute. Utility is the legacy
	// `utility` attribute, consulted only when Function is empty (spec
	// §4.A: "tolerate both... preferring utility only when function is
	// absent"). Always written back out as Function (open question #2).
	Function      string
	Utility       string
	InputTemplate json.RawMessage
	Description   string
	Tags          []string
}

// FunctionName returns the step's effective function, preferring Function
// and falling back to Utility.
func (r StepRow) FunctionName() string {
	if r.Function != "" {
		return r.Function
	}
	return r.Utility
}

// EdgeRow is a directed NEXT edge exactly as stored.
type EdgeRow struct {
	From      string
	To        string
	Condition json.RawMessage
	Operator  string
	Priority  int
	Seq       int
}

// GraphAdapter is the read side of the workflow graph store (spec §4.A). It
// is deliberately storage-agnostic: SQLite, MySQL, and in-memory
// implementations all satisfy it by importing only this package.
type GraphAdapter interface {
	// GetStep returns the step definition for id, or ok=false if absent.
	GetStep(ctx context.Context, id string) (StepRow, bool, error)

	// GetOutgoing returns every NEXT edge whose From is id, in a stable
	// order (by Priority ascending, then Seq ascending — spec §4.F).
	GetOutgoing(ctx context.Context, id string) ([]EdgeRow, error)
}

// SessionAdapter is the session-state persistence side of the store (spec
// §4.B). It deals in opaque, already-serialized state so the store package
// never needs this package's Value/SessionState types either.
type SessionAdapter interface {
	// CreateSessionNode persists a brand-new session's initial state. It
	// returns an error if id already exists.
	CreateSessionNode(ctx context.Context, id string, state json.RawMessage, createdAt time.Time) error

	// ReadSessionState returns the session's current serialized state.
	ReadSessionState(ctx context.Context, id string) (json.RawMessage, bool, error)

	// WriteSessionState overwrites the session's serialized state.
	WriteSessionState(ctx context.Context, id string, state json.RawMessage) error
}

// GraphTx is the set of operations available inside RunTransaction.
type GraphTx interface {
	GraphAdapter
	SessionAdapter
}

// Adapter combines the graph and session sides with transactional access,
// mirroring the teacher's store.Store[S] shape but untyped and raw-string
// based (spec §4.A/§4.B).
type Adapter interface {
	GraphAdapter
	SessionAdapter

	// RunTransaction executes body with a GraphTx scoped to one atomic
	// unit of work. Implementations serialize session-state writes so the
	// engine's read-modify-write session update is never lost to a
	// concurrent writer (spec §5: "optimistic concurrency... the adapter
	// is responsible for detecting the conflict").
	RunTransaction(ctx context.Context, body func(tx GraphTx) error) error
}

// ParseStep decodes a StepRow's raw input template into the interface{}
// tree resolve.Resolve expects.
func ParseStep(row StepRow) (StepDef, error) {
	def := StepDef{
		ID:          row.ID,
		Function:    row.FunctionName(),
		Description: row.Description,
		Tags:        row.Tags,
	}
	if len(row.InputTemplate) == 0 {
		return def, nil
	}
	var tmpl interface{}
	if err := json.Unmarshal(row.InputTemplate, &tmpl); err != nil {
		return StepDef{}, fmt.Errorf("engine: decode step %q input template: %w", row.ID, err)
	}
	def.InputTemplate = tmpl
	return def, nil
}

// ParseEdge converts an EdgeRow into an EdgeDef. The operator string is
// copied as is; it is not validated.
func ParseEdge(row EdgeRow) EdgeDef {
	return EdgeDef{
		From:      row.From,
		To:        row.To,
		Condition: row.Condition,
		Operator:  Operator(row.Operator),
		Priority:  row.Priority,
		Seq:       row.Seq,
	}
}

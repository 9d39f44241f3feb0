package engine

import "encoding/json"

// StepDef is a workflow graph node as read from the graph store (spec §3.1),
// parsed into the shape the engine's resolve/condition packages consume
// directly. An empty Function marks a no-op pass-through step.
//
// InputTemplate is a decoded JSON tree (nil, bool, float64, string,
// []interface{}, map[string]interface{}) rather than an engine.Value: it is
// handed straight to resolve.Resolve, which is intentionally decoupled from
// this package's tagged-union type (see DESIGN.md).
type StepDef struct {
	ID            string
	Function      string
	InputTemplate interface{}
	Description   string
	Tags          []string
}

// Operator is the boolean combinator applied across one edge's condition
// clauses (spec §3.1, §4.D). Each edge is evaluated on its own; edges that
// share a target are not combined.
type Operator string

// Operators.
const (
	OperatorAND Operator = "AND"
	OperatorOR  Operator = "OR"
)

// EdgeDef is a directed NEXT edge between two steps (spec §3.1). Condition
// is kept as raw JSON (rather than decoded) because condition.Evaluate takes
// the clause list in that form directly.
type EdgeDef struct {
	From      string
	To        string
	Condition json.RawMessage // clause list, or nil for an unconditional edge
	Operator  Operator
	Priority  int
	// Seq records discovery order for this edge, used to break priority
	// ties deterministically (spec §4.F step 4: "break ties by edge
	// discovery order").
	Seq int
}

// EffectiveOperator returns e.Operator, defaulting to AND per spec §3.1.
func (e EdgeDef) EffectiveOperator() Operator {
	if e.Operator == "" {
		return OperatorAND
	}
	return e.Operator
}

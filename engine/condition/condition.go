// Package condition evaluates NEXT edge conditions (spec §4.D, §6.3):
//
//	condition := '[' clause (',' clause)* ']'
//	clause    := string_ref
//	           | { "true": ref }
//	           | { "false": ref }
//	           | { "operator": "AND"|"OR",
//	               "true"?: ref_or_refs,
//	               "false"?: ref_or_refs }
//
// The grammar is a small, fixed JSON shape rather than a general expression
// language, so this package evaluates it directly against encoding/json
// rather than reaching for a generic expression engine (see DESIGN.md).
package condition

import (
	"encoding/json"
	"fmt"

	"github.com/stepflow/stepflow/engine/resolve"
)

// Operator is the boolean combinator applied across clauses, or across the
// "true"/"false" sub-conditions within one clause.
type Operator string

// Operators.
const (
	AND Operator = "AND"
	OR  Operator = "OR"
)

func normalizeOperator(op string) Operator {
	if Operator(op) == OR {
		return OR
	}
	return AND
}

// Evaluate decodes conditionJSON (the edge's condition attribute) and
// evaluates it against lookup, combining clauses with operator (the edge's
// own operator attribute; default AND). An empty/absent conditionJSON, or an
// empty clause list, is always satisfied (spec: "An edge with no condition
// is always taken... one with an empty condition list behaves identically").
func Evaluate(conditionJSON []byte, operator string, lookup resolve.Lookup) (bool, error) {
	if len(conditionJSON) == 0 {
		return true, nil
	}
	var clauses []json.RawMessage
	if err := json.Unmarshal(conditionJSON, &clauses); err != nil {
		return false, fmt.Errorf("condition: decode clause list: %w", err)
	}
	if len(clauses) == 0 {
		return true, nil
	}

	results := make([]bool, 0, len(clauses))
	for _, raw := range clauses {
		ok, err := evaluateClause(raw, lookup)
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}
	return combine(results, normalizeOperator(operator)), nil
}

func evaluateClause(raw json.RawMessage, lookup resolve.Lookup) (bool, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return refTruthy(asString, lookup), nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return false, fmt.Errorf("condition: decode clause: %w", err)
	}

	op := AND
	if v, ok := m["operator"].(string); ok {
		op = normalizeOperator(v)
	}

	var results []bool
	for _, ref := range refList(m["true"]) {
		results = append(results, refTruthy(ref, lookup))
	}
	for _, ref := range refList(m["false"]) {
		results = append(results, refFalsy(ref, lookup))
	}
	if len(results) == 0 {
		// A clause with neither "true" nor "false" (and no bare-string form)
		// holds vacuously; there is nothing to fail it.
		return true, nil
	}
	return combine(results, op), nil
}

// refList normalizes the "true"/"false" clause values, which may be a
// single reference string or a sequence of reference strings.
func refList(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func combine(results []bool, op Operator) bool {
	if op == OR {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// refTruthy resolves ref and reports whether the result is truthy. "1==1"
// and "1==0" are accepted as manual-override shortcuts (spec §4.D) rather
// than resolved as references.
func refTruthy(ref string, lookup resolve.Lookup) bool {
	switch ref {
	case "1==1":
		return true
	case "1==0":
		return false
	}
	v, resolved := resolve.Resolve(ref, lookup)
	if !resolved {
		return false
	}
	return truthy(v)
}

// refFalsy resolves ref and reports whether the result is falsy. Absence
// counts as falsy (spec §4.D).
func refFalsy(ref string, lookup resolve.Lookup) bool {
	switch ref {
	case "1==1":
		return false
	case "1==0":
		return true
	}
	v, resolved := resolve.Resolve(ref, lookup)
	if !resolved {
		return true
	}
	return !truthy(v)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return false
	}
}

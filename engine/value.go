// Package engine implements the workflow execution engine: step activation,
// parameter resolution, function dispatch, edge advance, and suspend/resume
// of sessions running against a graph-shaped workflow definition.
package engine

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the concrete shape held by a Value.
type Kind int

// Value kinds. Null is the zero value so an empty Value reads as absent.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindText
	KindList
	KindMap
)

// Value is the untyped JSON value used for session state (step outputs and
// message content). Parameter templates and function input/output are
// plain decoded JSON trees (interface{}), not Values. The workflow graph carries no
// compile-time schema for step data (spec §9), so state is represented as
// this recursive tagged union rather than a Go struct.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null is the absent/zero Value.
var Null = Value{}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Text wraps a string.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// List wraps a sequence of values.
func List(vs []Value) Value { return Value{kind: KindList, list: vs} }

// Map wraps a mapping of values.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind reports the concrete shape held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the absent value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Truthy implements the spec's notion of truthiness for condition clauses:
// absent, false, zero, empty-string, and empty list/map are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindText:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return len(v.m) > 0
	default:
		return false
	}
}

// AsMap returns the underlying map and true if v is a KindMap.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// AsList returns the underlying slice and true if v is a KindList.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsString returns the underlying string and true if v is a KindText.
func (v Value) AsString() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.s, true
}

// Get navigates into a map field. Returns Null, false if v is not a map or
// the field is absent.
func (v Value) Get(field string) (Value, bool) {
	m, ok := v.AsMap()
	if !ok {
		return Null, false
	}
	child, ok := m[field]
	return child, ok
}

// Index navigates into a list. Negative indices address from the end
// (-1 is the last element), matching the rolling-window indexing rule.
func (v Value) Index(i int) (Value, bool) {
	l, ok := v.AsList()
	if !ok {
		return Null, false
	}
	if i < 0 {
		i = len(l) + i
	}
	if i < 0 || i >= len(l) {
		return Null, false
	}
	return l[i], true
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindText:
		return json.Marshal(v.s)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("engine: unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts a decoded interface{} (as produced by encoding/json into
// an any-typed tree) into a Value.
func FromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case json.Number:
		f, _ := t.Float64()
		return Number(f)
	case string:
		return Text(t)
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return List(out)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return Map(out)
	default:
		return Null
	}
}

// ToAny converts a Value back into a plain interface{} tree, suitable for
// passing to a registered function or re-encoding with a different library.
func (v Value) ToAny() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindText:
		return v.s
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// ValueFromJSON parses raw JSON text into a Value.
func ValueFromJSON(data []byte) (Value, error) {
	if len(data) == 0 {
		return Null, nil
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Null, err
	}
	return v, nil
}

// MapToValues converts a map[string]interface{} (as returned by a
// registry.Function) into map[string]Value.
func MapToValues(m map[string]interface{}) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// ValuesToMap converts a map[string]Value into a plain
// map[string]interface{}, for handing off to a registry.Function.
func ValuesToMap(m map[string]Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.ToAny()
	}
	return out
}

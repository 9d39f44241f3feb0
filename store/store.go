// Package store implements the graph store adapter (spec §4.A): typed CRUD
// over workflow steps, NEXT edges, and session state, backed by SQLite,
// MySQL, or an in-memory map. Every implementation satisfies
// engine.Adapter.
package store

import (
	"encoding/json"
)

// Adapters decode SQL rows (or, for the memory adapter, hold the structs
// directly) into engine.StepRow/EdgeRow; this package defines no row types
// of its own.

// marshalTags/unmarshalTags convert a step's Tags slice to and from the
// single TEXT column every backing schema stores them in (JSON array).
func marshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

// Seed is a workflow definition bulk-loaded at startup (steps + edges),
// the shape a setup script or test fixture builds before handing it to a
// Loader. It is not part of the engine's runtime contract — engine.Adapter
// only needs GetStep/GetOutgoing — but every adapter in this package
// implements it so tests can populate a store without hand-writing SQL.
// cmd/server does not load a Seed; it serves whatever graph the store holds.
type Seed struct {
	Steps []SeedStep
	Edges []SeedEdge
}

// SeedStep is one workflow step definition to load.
type SeedStep struct {
	ID            string
	Function      string
	InputTemplate interface{}
	Description   string
	Tags          []string
}

// SeedEdge is one NEXT edge definition to load.
type SeedEdge struct {
	From      string
	To        string
	Condition interface{} // clause list, nil for unconditional
	Operator  string
	Priority  int
}

// Loader is implemented by every adapter in this package: it bulk-loads a
// workflow graph definition, used by tests to populate a store before
// exercising engine.Engine against it.
type Loader interface {
	LoadSeed(seed Seed) error
}

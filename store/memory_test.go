package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stepflow/stepflow/engine"
)

func TestMemoryAdapter_StepsAndEdges(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	err := a.LoadSeed(Seed{
		Steps: []SeedStep{
			{ID: "root", Function: ""},
			{ID: "a", Function: "utils.reply.reply", InputTemplate: map[string]interface{}{"message": "hi"}},
		},
		Edges: []SeedEdge{
			{From: "root", To: "a", Priority: 1},
			{From: "root", To: "b", Priority: 0},
		},
	})
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	row, ok, err := a.GetStep(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("GetStep(a) = %v, %v, %v", row, ok, err)
	}
	if row.Function != "utils.reply.reply" {
		t.Errorf("Function = %q", row.Function)
	}

	_, ok, err = a.GetStep(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("GetStep(missing) should be absent, got ok=%v err=%v", ok, err)
	}

	edges, err := a.GetOutgoing(ctx, "root")
	if err != nil {
		t.Fatalf("GetOutgoing: %v", err)
	}
	if len(edges) != 2 || edges[0].To != "b" || edges[1].To != "a" {
		t.Fatalf("expected edges ordered by priority [b, a], got %+v", edges)
	}
}

func TestMemoryAdapter_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	initial := engine.NewSessionState("sess-1")
	raw, _ := json.Marshal(initial)
	if err := a.CreateSessionNode(ctx, "sess-1", raw, time.Now()); err != nil {
		t.Fatalf("CreateSessionNode: %v", err)
	}

	if err := a.CreateSessionNode(ctx, "sess-1", raw, time.Now()); err == nil {
		t.Fatalf("expected error creating duplicate session")
	}

	got, ok, err := a.ReadSessionState(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("ReadSessionState: %v, %v, %v", got, ok, err)
	}

	err = a.RunTransaction(ctx, func(tx engine.GraphTx) error {
		raw, ok, err := tx.ReadSessionState(ctx, "sess-1")
		if err != nil || !ok {
			t.Fatalf("tx.ReadSessionState: %v, %v", ok, err)
		}
		var state engine.SessionState
		if err := json.Unmarshal(raw, &state); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		state.LastEvaluated = 42
		out, _ := json.Marshal(state)
		return tx.WriteSessionState(ctx, "sess-1", out)
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}

	got, _, _ = a.ReadSessionState(ctx, "sess-1")
	var state engine.SessionState
	if err := json.Unmarshal(got, &state); err != nil {
		t.Fatalf("unmarshal after update: %v", err)
	}
	if state.LastEvaluated != 42 {
		t.Errorf("LastEvaluated = %d, want 42", state.LastEvaluated)
	}

	if _, ok, _ := a.ReadSessionState(ctx, "no-such-session"); ok {
		t.Errorf("expected absent session to read as not-found")
	}
}

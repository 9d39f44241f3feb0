package engine_test

import (
	"context"
	"testing"

	"github.com/stepflow/stepflow/engine"
	"github.com/stepflow/stepflow/engine/functions"
	"github.com/stepflow/stepflow/engine/registry"
	"github.com/stepflow/stepflow/store"
)

// fixedFunction returns a constant result, for building step graphs the
// tests can reason about deterministically.
type fixedFunction struct {
	name   string
	result map[string]interface{}
	err    error
}

func (f fixedFunction) Name() string { return f.name }
func (f fixedFunction) Call(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	return f.result, f.err
}

func newEngine(t *testing.T, reg *registry.Registry) (*engine.Engine, *store.MemoryAdapter, *engine.SessionStore) {
	t.Helper()
	adapter := store.NewMemoryAdapter()
	sessionStore := engine.NewSessionStore(adapter, engine.RetryPolicy{MaxAttempts: 1})
	e := engine.New(sessionStore, adapter, reg)
	return e, adapter, sessionStore
}

// TestProcess_MinimalPassThrough grounds spec.md's worked example 1:
// root -> a(noop) -> b(reply), expecting a complete and an assistant
// message recording b's reply text.
func TestProcess_MinimalPassThrough(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	reg.Register(functions.NewNoop())
	reg.Register(functions.NewReply())

	e, adapter, sessionStore := newEngine(t, reg)
	if err := adapter.LoadSeed(store.Seed{
		Steps: []store.SeedStep{
			{ID: "root"},
			{ID: "a", Function: "utils.noop.noop"},
			{ID: "b", Function: "utils.reply.reply", InputTemplate: map[string]interface{}{"message": "hi"}},
		},
		Edges: []store.SeedEdge{
			{From: "root", To: "a"},
			{From: "a", To: "b"},
		},
	}); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	sessionID, err := sessionStore.Create(ctx, "wf", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := e.Process(ctx, sessionID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != engine.StatusCompleted {
		t.Fatalf("Status = %v, want completed", result.Status)
	}

	state, _, _ := sessionStore.Get(ctx, sessionID)
	if state.Workflow["a"].Status != engine.StatusComplete {
		t.Errorf("a.status = %v, want complete", state.Workflow["a"].Status)
	}
	if len(state.Data.Messages) != 1 || state.Data.Messages[0].Role != "assistant" {
		t.Fatalf("messages = %+v", state.Data.Messages)
	}
	content, _ := state.Data.Messages[0].Content.AsString()
	if content != "hi" {
		t.Errorf("assistant message content = %q, want hi", content)
	}
}

// TestProcess_PendingOnMissingInput grounds spec.md's worked example 2: a
// step whose template references a field that never appears in its
// upstream output is marked pending rather than error, and the session
// settles as completed once the single pending-retry attempt also fails.
func TestProcess_PendingOnMissingInput(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	reg.Register(fixedFunction{name: "gen.a", result: map[string]interface{}{"x": float64(1)}})

	e, adapter, sessionStore := newEngine(t, reg)
	if err := adapter.LoadSeed(store.Seed{
		Steps: []store.SeedStep{
			{ID: "root"},
			{ID: "a", Function: "gen.a"},
			{ID: "b", Function: "", InputTemplate: map[string]interface{}{"y": "@{SESSION_ID}.a.z"}},
		},
		Edges: []store.SeedEdge{
			{From: "root", To: "a"},
			{From: "a", To: "b"},
		},
	}); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	sessionID, _ := sessionStore.Create(ctx, "wf", nil)
	result, err := e.Process(ctx, sessionID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != engine.StatusCompleted {
		t.Fatalf("Status = %v, want completed", result.Status)
	}

	state, _, _ := sessionStore.Get(ctx, sessionID)
	if state.Workflow["b"].Status != engine.StatusPending {
		t.Errorf("b.status = %v, want pending", state.Workflow["b"].Status)
	}
	if len(state.Data.Outputs["b"]) != 0 {
		t.Errorf("b outputs = %v, want none", state.Data.Outputs["b"])
	}
	aOut, ok := state.LastOutput("a")
	if !ok {
		t.Fatal("expected a to have an output")
	}
	aMap, ok := aOut.AsMap()
	if !ok {
		t.Fatalf("a output = %#v, want a map", aOut)
	}
	if x := aMap["x"].ToAny(); x != float64(1) {
		t.Errorf("a.x = %#v, want 1", x)
	}
}

// TestProcess_SuspendsAndResumesOnSubmitInput grounds spec.md's worked
// example 3: an input-request step suspends process with the configured
// prompt, and submit_input resumes the workflow, appending the user's
// reply to the awaiting step's outputs and a user message, then letting
// the reply step's template pick it up.
func TestProcess_SuspendsAndResumesOnSubmitInput(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	reg.Register(functions.NewRequest())
	reg.Register(functions.NewReply())

	e, adapter, sessionStore := newEngine(t, reg)
	if err := adapter.LoadSeed(store.Seed{
		Steps: []store.SeedStep{
			{ID: "root"},
			{ID: "ask", Function: "utils.request.request", InputTemplate: map[string]interface{}{"prompt": "name?"}},
			{ID: "greet", Function: "utils.reply.reply", InputTemplate: map[string]interface{}{"message": "hi @{SESSION_ID}.ask"}},
		},
		Edges: []store.SeedEdge{
			{From: "root", To: "ask"},
			{From: "ask", To: "greet"},
		},
	}); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	sessionID, _ := sessionStore.Create(ctx, "wf", nil)
	result, err := e.Process(ctx, sessionID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != engine.StatusAwaitingInput {
		t.Fatalf("Status = %v, want awaiting_input", result.Status)
	}
	if result.AwaitingInput == nil || result.AwaitingInput.Prompt != "name?" {
		t.Fatalf("AwaitingInput = %+v", result.AwaitingInput)
	}

	result, err = e.SubmitInput(ctx, sessionID, "Ada")
	if err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}
	if result.Status != engine.StatusCompleted {
		t.Fatalf("Status after submit = %v, want completed", result.Status)
	}

	state, _, _ := sessionStore.Get(ctx, sessionID)
	askOut, ok := state.LastOutput("ask")
	askStr, _ := askOut.AsString()
	if !ok || askStr != "Ada" {
		t.Fatalf("ask output = %#v, ok=%v", askOut, ok)
	}
	if len(state.Data.Messages) != 2 {
		t.Fatalf("messages = %+v", state.Data.Messages)
	}
	if state.Data.Messages[0].Role != "user" {
		t.Errorf("messages[0].Role = %q, want user", state.Data.Messages[0].Role)
	}
	last := state.Data.Messages[len(state.Data.Messages)-1]
	content, _ := last.Content.AsString()
	if last.Role != "assistant" || content != "hi Ada" {
		t.Errorf("final message = %+v", last)
	}
}

// TestProcess_ConditionalBranching grounds spec.md's worked example 4: of
// two outgoing edges gated on the same boolean field by a true/false
// clause, only the edge whose clause is satisfied activates its target.
func TestProcess_ConditionalBranching(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	reg.Register(fixedFunction{name: "gen.run", result: map[string]interface{}{"ok": true}})

	e, adapter, sessionStore := newEngine(t, reg)
	if err := adapter.LoadSeed(store.Seed{
		Steps: []store.SeedStep{
			{ID: "root"},
			{ID: "gen", Function: "gen.run"},
			{ID: "yes"},
			{ID: "no"},
		},
		Edges: []store.SeedEdge{
			{From: "root", To: "gen"},
			{From: "gen", To: "yes", Condition: []interface{}{
				map[string]interface{}{"true": "@{SESSION_ID}.gen.ok"},
			}},
			{From: "gen", To: "no", Condition: []interface{}{
				map[string]interface{}{"false": "@{SESSION_ID}.gen.ok"},
			}},
		},
	}); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	sessionID, _ := sessionStore.Create(ctx, "wf", nil)
	result, err := e.Process(ctx, sessionID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != engine.StatusCompleted {
		t.Fatalf("Status = %v, want completed", result.Status)
	}

	state, _, _ := sessionStore.Get(ctx, sessionID)
	if state.Workflow["yes"].Status != engine.StatusComplete {
		t.Errorf("yes.status = %v, want complete", state.Workflow["yes"].Status)
	}
	if _, ok := state.Workflow["no"]; ok {
		t.Errorf("no should never have been activated, got %+v", state.Workflow["no"])
	}
}

// TestProcess_LoopHitsIterationCap grounds spec.md's worked example 5: an
// unconditional self-loop runs until the iteration safety bound, leaving
// the rolling output window at its cap rather than growing unbounded.
func TestProcess_LoopHitsIterationCap(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	reg.Register(fixedFunction{name: "tick.run", result: map[string]interface{}{}})

	adapter := store.NewMemoryAdapter()
	sessionStore := engine.NewSessionStore(adapter, engine.RetryPolicy{MaxAttempts: 1})
	e := engine.New(sessionStore, adapter, reg, engine.WithIterationMax(30))

	if err := adapter.LoadSeed(store.Seed{
		Steps: []store.SeedStep{
			{ID: "root"},
			{ID: "tick", Function: "tick.run"},
		},
		Edges: []store.SeedEdge{
			{From: "root", To: "tick"},
			{From: "tick", To: "tick"},
		},
	}); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	sessionID, _ := sessionStore.Create(ctx, "wf", nil)
	result, err := e.Process(ctx, sessionID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != engine.StatusRunning {
		t.Fatalf("Status = %v, want active (iteration cap)", result.Status)
	}
	if result.Warning == "" {
		t.Error("expected a warning on iteration cap")
	}

	state, _, _ := sessionStore.Get(ctx, sessionID)
	if len(state.Data.Outputs["tick"]) != 5 {
		t.Errorf("tick outputs length = %d, want 5", len(state.Data.Outputs["tick"]))
	}
}

// TestProcess_StepErrorOnUnregisteredFunction grounds §4.E: a nonempty
// but unregistered function name is a fatal error for that step, not a
// pending retry, and does not halt the rest of the workflow.
func TestProcess_StepErrorOnUnregisteredFunction(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()

	e, adapter, sessionStore := newEngine(t, reg)
	if err := adapter.LoadSeed(store.Seed{
		Steps: []store.SeedStep{
			{ID: "root"},
			{ID: "a", Function: "does.not.exist"},
		},
		Edges: []store.SeedEdge{
			{From: "root", To: "a"},
		},
	}); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	sessionID, _ := sessionStore.Create(ctx, "wf", nil)
	result, err := e.Process(ctx, sessionID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != engine.StatusCompleted {
		t.Fatalf("Status = %v, want completed", result.Status)
	}

	state, _, _ := sessionStore.Get(ctx, sessionID)
	if state.Workflow["a"].Status != engine.StatusError {
		t.Errorf("a.status = %v, want error", state.Workflow["a"].Status)
	}
	if state.Workflow["a"].Error == "" {
		t.Error("expected an error message recorded on step a")
	}
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stepflow/stepflow/engine/condition"
	"github.com/stepflow/stepflow/engine/emit"
	"github.com/stepflow/stepflow/engine/registry"
	"github.com/stepflow/stepflow/engine/resolve"
)

// ProcessStatus is the outcome of a Process or SubmitInput call (spec §4.F
// "Drive").
type ProcessStatus string

// Process statuses.
const (
	StatusCompleted     ProcessStatus = "completed"
	StatusAwaitingInput ProcessStatus = "awaiting_input"
	// StatusRunning is returned when the iteration safety bound was
	// reached before the session settled; callers may resume by
	// re-invoking Process (spec §4.F item 3, §5 safety bound).
	StatusRunning ProcessStatus = "active"
)

// AwaitingInput describes the suspended step's prompt, for the caller to
// surface to an external user (spec §4.G, §6.1).
type AwaitingInput struct {
	StepID  string
	Prompt  string
	Options []string
}

// ProcessResult is returned by Process and SubmitInput.
type ProcessResult struct {
	Status        ProcessStatus
	AwaitingInput *AwaitingInput // non-nil iff Status == StatusAwaitingInput
	Warning       string         // set iff Status == StatusRunning
}

// Engine is the workflow driver (spec §4.F): it activates steps, resolves
// their inputs, dispatches them to the function registry, advances the
// workflow along conditional edges, and suspends/resumes sessions for
// external input. It owns no storage of its own — everything flows
// through the injected SessionStore/Adapter/Registry (spec §9: "replace
// global singletons with explicit dependency injection").
type Engine struct {
	store    *SessionStore
	adapter  Adapter
	registry *registry.Registry
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	cfg      engineConfig

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Engine over store/adapter/reg, applying any Options.
func New(store *SessionStore, adapter Adapter, reg *registry.Registry, opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		store:    store,
		adapter:  adapter,
		registry: reg,
		emitter:  cfg.emitter,
		metrics:  cfg.metrics,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing Process/SubmitInput for id,
// allocating it on first use. Sessions are never deleted (spec §3.2), so
// locks are never removed either (spec §5: "per-session lock... non-
// reentrant").
func (e *Engine) sessionLock(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

func (e *Engine) emit(ev emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// clock returns a monotonically increasing integer timestamp used for
// StepState.LastExecuted and SessionState.LastEvaluated. Nanosecond
// resolution (rather than the spec's illustrative "integer_epoch" second
// granularity) keeps same-iteration events strictly orderable, which §8's
// "last_evaluated is monotonically non-decreasing" law requires even when
// an iteration completes within the same wall-clock second.
func clock() int64 { return time.Now().UnixNano() }

// Process runs the activate/execute/advance loop for sessionID until the
// workflow completes, suspends for input, or the iteration safety bound is
// reached (spec §4.F "Drive").
func (e *Engine) Process(ctx context.Context, sessionID string) (ProcessResult, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return e.drive(ctx, sessionID)
}

// SubmitInput resumes a session suspended in StatusAwaitingInput (spec
// §4.F "submit_input operation"): it appends userInput to the awaiting
// step's output, records a user message, marks the step complete, and
// resumes Process.
func (e *Engine) SubmitInput(ctx context.Context, sessionID string, userInput interface{}) (ProcessResult, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	now := clock()
	err := e.store.Update(ctx, sessionID, func(state *SessionState) (*SessionState, error) {
		stepID, ok := state.AwaitingStep()
		if !ok {
			return nil, ErrNoAwaitingStep
		}
		next := state.Clone()
		next.Data.AppendOutput(stepID, FromAny(userInput))
		next.Data.AppendMessage(Message{Role: "user", Content: FromAny(userInput), Timestamp: now})
		next.Workflow[stepID] = StepState{Status: StatusComplete, LastExecuted: now, ActivatedSeq: state.Workflow[stepID].ActivatedSeq}
		return next, nil
	})
	if err != nil {
		return ProcessResult{}, fmt.Errorf("engine: submit_input %q: %w", sessionID, err)
	}

	e.emit(emit.Event{SessionID: sessionID, Msg: "input_submitted"})
	return e.drive(ctx, sessionID)
}

// drive is the per-Process-call iteration loop (spec §4.F "Per-iteration
// algorithm"). It assumes the caller already holds sessionID's lock.
func (e *Engine) drive(ctx context.Context, sessionID string) (ProcessResult, error) {
	// pendingRetried bounds step 2's "promote pending steps" branch to one
	// attempt per Process call: a pending step whose reference never
	// resolves would otherwise be promoted back to active and re-marked
	// pending forever, turning a dead end into an infinite loop. One retry
	// still covers the documented case (a sibling branch completing after
	// edge-advance makes a pending reference resolvable); see DESIGN.md.
	pendingRetried := false

	for iter := 0; iter < e.cfg.iterationMax; iter++ {
		snap, ok, err := e.store.Get(ctx, sessionID)
		if err != nil {
			return ProcessResult{}, fmt.Errorf("engine: process %q: %w", sessionID, err)
		}
		if !ok {
			return ProcessResult{}, fmt.Errorf("engine: process %q: %w", sessionID, ErrSessionNotFound)
		}

		active := activeStepIDs(snap)
		if len(active) == 0 {
			// Edge-advance still needs to run here: a step may have just
			// completed (e.g. via submit_input) without this drive call
			// ever having an active step of its own to execute, and its
			// outgoing edges must still fire.
			activated, err := e.advanceEdges(ctx, sessionID)
			if err != nil {
				return ProcessResult{}, err
			}
			if activated {
				continue
			}

			// Root recovery runs every iteration, unbounded: it only fires
			// when root is missing/incomplete, and reactivating it always
			// leads to an actual execution next iteration, so it cannot
			// spin without making progress (spec §4.F step 2, first clause).
			rootReactivated, err := e.reactivateRoot(ctx, sessionID)
			if err != nil {
				return ProcessResult{}, err
			}
			if rootReactivated {
				continue
			}

			if !pendingRetried {
				pendingRetried = true
				promoted, err := e.promotePendingSteps(ctx, sessionID)
				if err != nil {
					return ProcessResult{}, err
				}
				if promoted {
					continue
				}
			}
			return ProcessResult{Status: StatusCompleted}, nil
		}

		result, suspended, err := e.executeActiveSteps(ctx, sessionID, snap, active)
		if err != nil {
			return ProcessResult{}, err
		}
		if suspended {
			return result, nil
		}

		if _, err := e.advanceEdges(ctx, sessionID); err != nil {
			return ProcessResult{}, err
		}
	}

	if e.metrics != nil {
		e.metrics.IncrementIterationCapReached()
	}
	e.emit(emit.Event{SessionID: sessionID, Msg: "iteration_cap_reached"})
	return ProcessResult{Status: StatusRunning, Warning: ErrIterationCapReached.Error()}, nil
}

// activeStepIDs returns every step currently StatusActive, ordered by
// ActivatedSeq ascending — "priority order when priority is set on the
// edges that introduced them; else insertion order" (spec §4.F step 3).
func activeStepIDs(state *SessionState) []string {
	var ids []string
	for id, st := range state.Workflow {
		if st.Status == StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return state.Workflow[ids[i]].ActivatedSeq < state.Workflow[ids[j]].ActivatedSeq
	})
	return ids
}

// reactivateRoot sets the root step back to StatusActive if it is missing
// or not yet complete (spec §4.F step 2: "If root exists and is not
// complete, set it active, continue").
func (e *Engine) reactivateRoot(ctx context.Context, sessionID string) (bool, error) {
	reactivated := false
	err := e.store.Update(ctx, sessionID, func(state *SessionState) (*SessionState, error) {
		root, ok := state.Workflow[RootStepID]
		if ok && root.Status == StatusComplete {
			return state, nil
		}
		next := state.Clone()
		next.Activate(RootStepID)
		reactivated = true
		return next, nil
	})
	if err != nil {
		return false, fmt.Errorf("engine: reactivate root %q: %w", sessionID, err)
	}
	return reactivated, nil
}

// promotePendingSteps retries every StatusPending step by setting it back to
// StatusActive, in case side effects of a prior edge-advance made its
// inputs resolvable (spec §4.F step 2: "if any pending steps exist whose
// inputs might have become resolvable... promote to active"). Bounded to
// one attempt per drive call by the caller: unlike root recovery, retrying
// a step whose reference is permanently unresolvable would otherwise spin
// forever without ever changing state (see DESIGN.md).
func (e *Engine) promotePendingSteps(ctx context.Context, sessionID string) (bool, error) {
	promoted := false
	err := e.store.Update(ctx, sessionID, func(state *SessionState) (*SessionState, error) {
		next := state.Clone()
		for id, st := range next.Workflow {
			if st.Status == StatusPending {
				next.Activate(id)
				promoted = true
			}
		}
		return next, nil
	})
	if err != nil {
		return false, fmt.Errorf("engine: promote pending %q: %w", sessionID, err)
	}
	return promoted, nil
}

// executeActiveSteps runs spec §4.F per-iteration steps 3(a)-(e) for every
// id in active, each as its own store.Update (spec §5: "all state writes
// MUST flow through a single update transaction per logical mutation
// point"). It stops and returns suspended=true the moment a step enters
// awaiting_input, per spec: "mark awaiting_input, persist, and return
// immediately."
func (e *Engine) executeActiveSteps(ctx context.Context, sessionID string, snap *SessionState, active []string) (ProcessResult, bool, error) {
	for _, stepID := range active {
		row, found, err := e.adapter.GetStep(ctx, stepID)
		if err != nil {
			return ProcessResult{}, false, fmt.Errorf("engine: get step %q: %w", stepID, err)
		}
		if !found {
			if err := e.markStatus(ctx, sessionID, stepID, StatusError, "Step not found"); err != nil {
				return ProcessResult{}, false, err
			}
			e.emit(emit.Event{SessionID: sessionID, StepID: stepID, Msg: "step_error", Meta: map[string]interface{}{"error": "Step not found"}})
			continue
		}
		def, err := ParseStep(row)
		if err != nil {
			return ProcessResult{}, false, fmt.Errorf("engine: parse step %q: %w", stepID, err)
		}

		args, ok := e.resolveInput(snap, def.InputTemplate)
		if !ok {
			if err := e.markStatus(ctx, sessionID, stepID, StatusPending, ""); err != nil {
				return ProcessResult{}, false, err
			}
			e.emit(emit.Event{SessionID: sessionID, StepID: stepID, Msg: "step_pending"})
			continue
		}

		if e.registry.Suspends(def.Function) {
			ai := &AwaitingInput{StepID: stepID, Prompt: stringArg(args, "prompt"), Options: stringSliceArg(args, "options")}
			if err := e.suspend(ctx, sessionID, stepID); err != nil {
				return ProcessResult{}, false, err
			}
			e.emit(emit.Event{SessionID: sessionID, StepID: stepID, Msg: "step_suspend"})
			if e.metrics != nil {
				e.metrics.SetAwaitingInput(1)
			}
			return ProcessResult{Status: StatusAwaitingInput, AwaitingInput: ai}, true, nil
		}

		start := time.Now()
		result, callErr := e.dispatch(ctx, def, args)
		e.recordLatency(stepID, callErr, time.Since(start))

		if callErr != nil {
			if err := e.markStatus(ctx, sessionID, stepID, StatusError, callErr.Error()); err != nil {
				return ProcessResult{}, false, err
			}
			e.emit(emit.Event{SessionID: sessionID, StepID: stepID, Msg: "step_error", Meta: map[string]interface{}{"error": callErr.Error()}})
			continue
		}

		if err := e.completeStep(ctx, sessionID, stepID, def.Function, result); err != nil {
			return ProcessResult{}, false, err
		}
		e.emit(emit.Event{SessionID: sessionID, StepID: stepID, Msg: "step_complete"})
	}
	return ProcessResult{}, false, nil
}

// resolveInput resolves def's input template against snap's rolling
// outputs. A nil template resolves to an empty argument map.
func (e *Engine) resolveInput(snap *SessionState, tmpl interface{}) (map[string]interface{}, bool) {
	if tmpl == nil {
		return map[string]interface{}{}, true
	}
	resolved, ok := resolve.Resolve(tmpl, lookupFor(snap))
	if !ok {
		return nil, false
	}
	m, ok := resolved.(map[string]interface{})
	if !ok {
		// A non-object template (bare string/number) resolves fine but has
		// no keyword arguments to hand a function; pass it through under a
		// single "value" key rather than discarding it.
		return map[string]interface{}{"value": resolved}, true
	}
	return m, true
}

// lookupFor adapts a SessionState's rolling-output map into a
// resolve.Lookup, marshaling each step's window to the raw JSON gjson
// expects (spec §4.C resolver purity: operates on a snapshot, never the
// live struct).
func lookupFor(snap *SessionState) resolve.Lookup {
	return func(stepID string) ([]byte, bool) {
		seq, ok := snap.Data.Outputs[stepID]
		if !ok {
			return nil, false
		}
		raw, err := json.Marshal(seq)
		if err != nil {
			return nil, false
		}
		return raw, true
	}
}

// dispatch invokes def's function through the registry, respecting the
// engine's configured function timeout and retry policy (spec §7
// "function exception" taxonomy; DESIGN.md function-call timeout/retry).
func (e *Engine) dispatch(ctx context.Context, def StepDef, args map[string]interface{}) (map[string]interface{}, error) {
	if def.Function == "" {
		return map[string]interface{}{}, nil
	}
	fn, ok := e.registry.Lookup(def.Function)
	if !ok {
		return nil, fmt.Errorf("Utility not found: %s", def.Function)
	}

	var result map[string]interface{}
	retryErr := e.cfg.retry.retry(ctx.Done(), func(attempt int, err error) {
		if e.metrics != nil {
			e.metrics.IncrementFunctionRetries(def.ID, err.Error())
		}
	}, func() error {
		out, err := callWithTimeout(ctx, def.ID, functionTimeout(e.cfg.functionTimeout), func(callCtx context.Context) (map[string]interface{}, error) {
			return fn.Call(callCtx, args)
		})
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return result, nil
}

func (e *Engine) recordLatency(stepID string, callErr error, d time.Duration) {
	if e.metrics == nil {
		return
	}
	status := "complete"
	if callErr != nil {
		status = "error"
	}
	e.metrics.RecordStepLatency(stepID, status, d)
}

// markStatus sets stepID's status (and optional error message) in one
// store.Update transaction.
func (e *Engine) markStatus(ctx context.Context, sessionID, stepID string, status StepStatus, errMsg string) error {
	now := clock()
	err := e.store.Update(ctx, sessionID, func(state *SessionState) (*SessionState, error) {
		next := state.Clone()
		seq := next.Workflow[stepID].ActivatedSeq
		st := StepState{Status: status, Error: errMsg, ActivatedSeq: seq}
		if status == StatusComplete || status == StatusError {
			st.LastExecuted = now
		}
		next.Workflow[stepID] = st
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("engine: mark step %q %s: %w", stepID, status, err)
	}
	return nil
}

// suspend marks stepID StatusAwaitingInput, halting the whole workflow
// (spec §4.F step 3(c)).
func (e *Engine) suspend(ctx context.Context, sessionID, stepID string) error {
	return e.store.Update(ctx, sessionID, func(state *SessionState) (*SessionState, error) {
		next := state.Clone()
		seq := next.Workflow[stepID].ActivatedSeq
		next.Workflow[stepID] = StepState{Status: StatusAwaitingInput, ActivatedSeq: seq}
		return next, nil
	})
}

// completeStep records a successful function result: appends the output
// to stepID's rolling window, marks it complete, and — if function is the
// reply utility — appends the corresponding assistant message (spec §4.F
// "Message history maintenance").
func (e *Engine) completeStep(ctx context.Context, sessionID, stepID, function string, result map[string]interface{}) error {
	now := clock()
	isReply := e.registry.IsReply(function)
	err := e.store.Update(ctx, sessionID, func(state *SessionState) (*SessionState, error) {
		next := state.Clone()
		out := MapToValues(result)
		outVal := Map(out)
		next.Data.AppendOutput(stepID, outVal)
		if isReply {
			next.Data.AppendMessage(Message{Role: "assistant", Content: replyContent(outVal), Timestamp: now})
		}
		seq := next.Workflow[stepID].ActivatedSeq
		next.Workflow[stepID] = StepState{Status: StatusComplete, LastExecuted: now, ActivatedSeq: seq}
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("engine: complete step %q: %w", stepID, err)
	}
	return nil
}

// replyContent extracts the assistant message content from a reply
// utility's output: its "message" field if present, else the whole value.
func replyContent(out Value) Value {
	if v, ok := out.Get("message"); ok {
		return v
	}
	return out
}

// advanceEdges runs spec §4.F step 4 ("edge advance") as a single
// store.Update: every step completed at or after the session's current
// last_evaluated has its outgoing edges evaluated; satisfied edges
// activate their target (including re-activating a target currently in
// error — spec §9 open question #1, resolved as "allow re-activation").
func (e *Engine) advanceEdges(ctx context.Context, sessionID string) (bool, error) {
	now := clock()
	activated := false
	err := e.store.Update(ctx, sessionID, func(state *SessionState) (*SessionState, error) {
		next := state.Clone()
		lookup := lookupFor(next)

		type candidate struct {
			target   string
			priority int
			seq      int
		}
		var candidates []candidate

		for stepID, st := range next.Workflow {
			if st.Status != StatusComplete || st.LastExecuted < next.LastEvaluated {
				continue
			}
			edges, err := e.adapter.GetOutgoing(ctx, stepID)
			if err != nil {
				return nil, fmt.Errorf("engine: get outgoing %q: %w", stepID, err)
			}
			for _, edgeRow := range edges {
				edge := ParseEdge(edgeRow)
				ok, err := condition.Evaluate(edge.Condition, string(edge.EffectiveOperator()), lookup)
				if err != nil {
					return nil, fmt.Errorf("engine: evaluate condition %s->%s: %w", edge.From, edge.To, err)
				}
				if !ok {
					continue
				}
				candidates = append(candidates, candidate{target: edge.To, priority: edge.Priority, seq: edge.Seq})
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].priority != candidates[j].priority {
				return candidates[i].priority < candidates[j].priority
			}
			return candidates[i].seq < candidates[j].seq
		})
		for _, c := range candidates {
			next.Activate(c.target)
			activated = true
		}

		next.LastEvaluated = now
		return next, nil
	})
	if err != nil {
		return false, fmt.Errorf("engine: advance edges %q: %w", sessionID, err)
	}
	return activated, nil
}

// Snapshot returns a session's current status and, if a step is
// currently suspended, its prompt/options — without driving the loop
// (spec §4.G "GET /session/{id}"). ok is false if the session does not
// exist.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (status ProcessStatus, awaiting *AwaitingInput, ok bool, err error) {
	snap, found, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return "", nil, false, fmt.Errorf("engine: snapshot %q: %w", sessionID, err)
	}
	if !found {
		return "", nil, false, nil
	}

	if stepID, has := snap.AwaitingStep(); has {
		ai, err := e.describeAwaitingStep(ctx, snap, stepID)
		if err != nil {
			return "", nil, false, err
		}
		return StatusAwaitingInput, ai, true, nil
	}

	for _, st := range snap.Workflow {
		switch st.Status {
		case StatusActive, StatusPending:
			return StatusRunning, nil, true, nil
		}
	}
	return StatusCompleted, nil, true, nil
}

// describeAwaitingStep re-resolves the suspended step's input template to
// recover its prompt/options for display; resolution failures degrade to
// an empty prompt rather than an error, since the step is already
// suspended regardless of what its prompt looks like now.
func (e *Engine) describeAwaitingStep(ctx context.Context, snap *SessionState, stepID string) (*AwaitingInput, error) {
	row, found, err := e.adapter.GetStep(ctx, stepID)
	if err != nil {
		return nil, fmt.Errorf("engine: get step %q: %w", stepID, err)
	}
	if !found {
		return &AwaitingInput{StepID: stepID}, nil
	}
	def, err := ParseStep(row)
	if err != nil {
		return nil, fmt.Errorf("engine: parse step %q: %w", stepID, err)
	}
	args, ok := e.resolveInput(snap, def.InputTemplate)
	if !ok {
		return &AwaitingInput{StepID: stepID}, nil
	}
	return &AwaitingInput{StepID: stepID, Prompt: stringArg(args, "prompt"), Options: stringSliceArg(args, "options")}, nil
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

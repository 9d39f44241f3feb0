package engine

// StepStatus is the lifecycle status of a step within a session's workflow
// map (spec §3.2, §4.F).
type StepStatus string

// Step statuses.
const (
	StatusActive        StepStatus = "active"
	StatusPending       StepStatus = "pending"
	StatusComplete      StepStatus = "complete"
	StatusError         StepStatus = "error"
	StatusAwaitingInput StepStatus = "awaiting_input"
)

// outputWindow is the maximum number of retained outputs per step (spec §3.2:
// "length ≤ 5").
const outputWindow = 5

// StepState is the per-step entry in a session's workflow map.
type StepState struct {
	Status       StepStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	LastExecuted int64      `json:"last_executed,omitempty"`

	// ActivatedSeq orders this activation relative to others in the same
	// session, so the driver can enumerate active steps in "priority order
	// when priority is set on the edges that introduced them; else
	// insertion order" (spec §4.F step 3) without relying on Go's
	// unordered map iteration.
	ActivatedSeq int64 `json:"activated_seq,omitempty"`
}

// Message is one entry in a session's conversational history.
type Message struct {
	Role      string `json:"role"`
	Content   Value  `json:"content"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"_id,omitempty"`
}

// SessionData holds a session's rolling step outputs and message history.
type SessionData struct {
	Outputs  map[string][]Value `json:"outputs"`
	Messages []Message          `json:"messages"`
}

// AppendOutput appends out to step's rolling output sequence, evicting the
// oldest entry once the sequence would exceed outputWindow (spec §3.2, §8
// "the 6th append to an output sequence evicts the oldest").
func (d *SessionData) AppendOutput(step string, out Value) {
	if d.Outputs == nil {
		d.Outputs = make(map[string][]Value)
	}
	seq := append(d.Outputs[step], out)
	if len(seq) > outputWindow {
		seq = seq[len(seq)-outputWindow:]
	}
	d.Outputs[step] = seq
}

// AppendMessage appends msg to the message history. The engine never
// reorders messages (spec §4.F); this is the sole append path so ordering
// always matches the order the engine observed completions.
func (d *SessionData) AppendMessage(msg Message) {
	d.Messages = append(d.Messages, msg)
}

// SessionState is the full per-execution state document (spec §3.2).
type SessionState struct {
	ID            string               `json:"id"`
	Workflow      map[string]StepState `json:"workflow"`
	LastEvaluated int64                `json:"last_evaluated"`
	Data          SessionData          `json:"data"`

	// NextSeq is the source of ActivatedSeq values; internal bookkeeping,
	// not part of the spec's state shape, but additive and harmless to
	// round-trip.
	NextSeq int64 `json:"next_seq,omitempty"`
}

// NewSessionState builds the initial state for a fresh session: a single
// root step in StatusActive and empty outputs/messages (spec §3.2
// lifecycle).
func NewSessionState(id string) *SessionState {
	return &SessionState{
		ID: id,
		Workflow: map[string]StepState{
			RootStepID: {Status: StatusActive, ActivatedSeq: 0},
		},
		Data: SessionData{
			Outputs: make(map[string][]Value),
		},
		NextSeq: 1,
	}
}

// Activate sets stepID to StatusActive with a fresh ActivatedSeq, clearing
// any previous error. Re-activating a step already active or pending still
// assigns a new sequence number so it sorts after steps activated earlier
// in the same edge-advance batch.
func (s *SessionState) Activate(stepID string) {
	seq := s.NextSeq
	s.NextSeq++
	s.Workflow[stepID] = StepState{Status: StatusActive, ActivatedSeq: seq}
}

// AwaitingStep returns the id of the step currently in StatusAwaitingInput,
// if any (spec §4.F: "find the single step in awaiting_input").
func (s *SessionState) AwaitingStep() (string, bool) {
	for id, st := range s.Workflow {
		if st.Status == StatusAwaitingInput {
			return id, true
		}
	}
	return "", false
}

// RootStepID is the distinguished workflow entry point (spec §3.1).
const RootStepID = "root"

// Clone returns a deep copy of s, so mutators can operate on their own copy
// before the session store commits a replacement (resolve.Resolve and the
// engine's per-iteration logic never mutate a SessionState shared with the
// store).
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := &SessionState{
		ID:            s.ID,
		LastEvaluated: s.LastEvaluated,
		NextSeq:       s.NextSeq,
		Workflow:      make(map[string]StepState, len(s.Workflow)),
	}
	for k, v := range s.Workflow {
		out.Workflow[k] = v
	}
	out.Data.Outputs = make(map[string][]Value, len(s.Data.Outputs))
	for k, seq := range s.Data.Outputs {
		cp := make([]Value, len(seq))
		copy(cp, seq)
		out.Data.Outputs[k] = cp
	}
	out.Data.Messages = append([]Message(nil), s.Data.Messages...)
	return out
}

// LastOutput returns the most recently appended output for step, if any.
func (s *SessionState) LastOutput(step string) (Value, bool) {
	seq := s.Data.Outputs[step]
	if len(seq) == 0 {
		return Null, false
	}
	return seq[len(seq)-1], true
}

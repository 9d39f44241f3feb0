package emit

// Event is one observability event emitted during workflow execution,
// such as a step completing, waiting, suspending, or failing.
type Event struct {
	// SessionID identifies the session that produced this event.
	SessionID string
	// StepID identifies the graph step, empty for session-level events.
	StepID string
	// Msg names the event, e.g. "step_complete", "step_suspend".
	Msg string
	// Meta carries event-specific structured fields (duration_ms, error,
	// function name, and similar).
	Meta map[string]interface{}
}

package engine

import "errors"

// ErrNoAwaitingStep is returned by submit_input when no step in the
// session is currently StatusAwaitingInput (spec §4.F submit_input step 1).
var ErrNoAwaitingStep = errors.New("engine: no step awaiting input")

// ErrSessionNotFound is returned when an operation targets an unknown
// session id.
var ErrSessionNotFound = errors.New("engine: session not found")

// ErrIterationCapReached is a non-fatal signal: the driver stopped a
// runaway loop at the configured iteration_max (spec §4.F, §5 safety
// bound). It is not returned as an error from Process; Process instead
// returns StatusRunning with this error's text in ProcessResult.Warning,
// and emits an "iteration_cap_reached" event.
var ErrIterationCapReached = errors.New("engine: iteration cap reached")

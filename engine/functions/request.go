package functions

import (
	"context"
	"fmt"
)

// requestFunctionName is the canonical dotted name for the distinguished
// input-request sentinel.
const requestFunctionName = "utils.request.request"

// Request is the input-request sentinel function (spec §4.E/§9). The
// engine never calls it: encountering a step whose function resolves to
// this one suspends the step into awaiting_input instead of dispatching.
// Call exists only so the registry can describe it uniformly; it always
// errors, since reaching it is itself a driver bug.
type Request struct{}

// NewRequest returns the input-request sentinel function.
func NewRequest() Request { return Request{} }

// Name returns the dotted function name.
func (Request) Name() string { return requestFunctionName }

// Call always fails — the engine must never invoke this function directly.
func (Request) Call(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("functions: %s must suspend, not be called", requestFunctionName)
}

// SuspendsExecution marks Request as the capability that halts dispatch.
func (Request) SuspendsExecution() bool { return true }

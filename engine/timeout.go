package engine

import (
	"context"
	"fmt"
	"time"
)

// ErrFunctionTimeout is wrapped into the returned error when a function
// call exceeds its configured timeout.
type ErrFunctionTimeout struct {
	StepID  string
	Timeout time.Duration
}

func (e *ErrFunctionTimeout) Error() string {
	return fmt.Sprintf("engine: step %s exceeded function timeout of %v", e.StepID, e.Timeout)
}

// functionTimeout resolves the effective timeout for a step dispatch:
// the engine-wide default unless it is zero, meaning no timeout.
func functionTimeout(defaultTimeout time.Duration) time.Duration {
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// callWithTimeout invokes call under a derived context bounded by timeout
// (no bound at all if timeout is 0), translating a deadline-exceeded
// parent error into ErrFunctionTimeout so callers can distinguish a slow
// function from one that returned its own error.
func callWithTimeout(ctx context.Context, stepID string, timeout time.Duration, call func(context.Context) (map[string]interface{}, error)) (map[string]interface{}, error) {
	if timeout == 0 {
		return call(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := call(timeoutCtx)
	if err != nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return nil, &ErrFunctionTimeout{StepID: stepID, Timeout: timeout}
	}
	return result, err
}

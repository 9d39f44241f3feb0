package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFunctionTimeoutFallsBackToDefault(t *testing.T) {
	if got := functionTimeout(5 * time.Second); got != 5*time.Second {
		t.Errorf("functionTimeout = %v", got)
	}
	if got := functionTimeout(0); got != 0 {
		t.Errorf("functionTimeout(0) = %v, want 0", got)
	}
}

func TestCallWithTimeoutNoTimeoutPassesContextThrough(t *testing.T) {
	called := false
	_, err := callWithTimeout(context.Background(), "step1", 0, func(ctx context.Context) (map[string]interface{}, error) {
		called = true
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline when timeout is 0")
		}
		return map[string]interface{}{"ok": true}, nil
	})
	if err != nil {
		t.Fatalf("callWithTimeout: %v", err)
	}
	if !called {
		t.Error("call was not invoked")
	}
}

func TestCallWithTimeoutReturnsResultOnSuccess(t *testing.T) {
	result, err := callWithTimeout(context.Background(), "step1", time.Second, func(ctx context.Context) (map[string]interface{}, error) {
		return map[string]interface{}{"value": 42}, nil
	})
	if err != nil {
		t.Fatalf("callWithTimeout: %v", err)
	}
	if result["value"] != 42 {
		t.Errorf("result = %v", result)
	}
}

func TestCallWithTimeoutTranslatesDeadlineExceeded(t *testing.T) {
	_, err := callWithTimeout(context.Background(), "stepSlow", 10*time.Millisecond, func(ctx context.Context) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	var timeoutErr *ErrFunctionTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *ErrFunctionTimeout, got %v", err)
	}
	if timeoutErr.StepID != "stepSlow" {
		t.Errorf("StepID = %q", timeoutErr.StepID)
	}
}

func TestCallWithTimeoutPassesThroughNonTimeoutError(t *testing.T) {
	sentinel := errors.New("function failed")
	_, err := callWithTimeout(context.Background(), "step1", time.Second, func(ctx context.Context) (map[string]interface{}, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

package engine

import (
	"time"

	"github.com/stepflow/stepflow/engine/emit"
)

// DefaultIterationMax is the recommended safety bound on drive-loop
// iterations per Process call before the engine gives up and returns
// control with status active and a diagnostic.
const DefaultIterationMax = 1000

// Option configures an Engine at construction time.
type Option func(*engineConfig)

type engineConfig struct {
	iterationMax    int
	functionTimeout time.Duration
	retry           RetryPolicy
	metrics         *PrometheusMetrics
	emitter         emit.Emitter
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		iterationMax: DefaultIterationMax,
		retry:        DefaultRetryPolicy(),
		emitter:      emit.NewNullEmitter(),
	}
}

// WithIterationMax overrides the per-Process iteration safety bound
// (spec §4.F: "recommended 1000").
func WithIterationMax(n int) Option {
	return func(cfg *engineConfig) {
		if n > 0 {
			cfg.iterationMax = n
		}
	}
}

// WithFunctionTimeout sets the default timeout applied to every function
// call dispatched by the engine.
func WithFunctionTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.functionTimeout = d
	}
}

// WithRetryPolicy overrides the retry policy used for function calls
// dispatched by the engine. SessionStore.Update uses the policy given to
// NewSessionStore, not this one.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(cfg *engineConfig) {
		cfg.retry = rp
	}
}

// WithMetrics attaches a PrometheusMetrics recorder.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) {
		cfg.metrics = m
	}
}

// WithEmitter overrides the default NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) {
		if e != nil {
			cfg.emitter = e
		}
	}
}

package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics records Prometheus-compatible counters/gauges/
// histograms for engine operation, namespaced "stepflow_".
type PrometheusMetrics struct {
	stepLatency     *prometheus.HistogramVec
	functionRetries *prometheus.CounterVec
	storeConflicts  *prometheus.CounterVec
	awaitingInput   prometheus.Gauge
	iterationCaps   prometheus.Counter

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers and returns a PrometheusMetrics bound to
// registry (prometheus.DefaultRegisterer if nil).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stepflow",
		Name:      "step_latency_ms",
		Help:      "Step dispatch duration in milliseconds, from resolution to completion",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"step_id", "status"})

	pm.functionRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepflow",
		Name:      "function_retries_total",
		Help:      "Cumulative function call retry attempts",
	}, []string{"step_id", "reason"})

	pm.storeConflicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepflow",
		Name:      "store_conflicts_total",
		Help:      "Optimistic-concurrency conflicts detected on session state writes",
	}, []string{"session_id"})

	pm.awaitingInput = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "stepflow",
		Name:      "sessions_awaiting_input",
		Help:      "Current number of sessions suspended awaiting user input",
	})

	pm.iterationCaps = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "stepflow",
		Name:      "iteration_cap_reached_total",
		Help:      "Drive loop iterations aborted for exceeding the per-session iteration cap",
	})

	return pm
}

// RecordStepLatency observes a step's dispatch duration.
func (pm *PrometheusMetrics) RecordStepLatency(stepID, status string, d time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(stepID, status).Observe(float64(d.Milliseconds()))
}

// IncrementFunctionRetries increments the function-call retry counter.
func (pm *PrometheusMetrics) IncrementFunctionRetries(stepID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.functionRetries.WithLabelValues(stepID, reason).Inc()
}

// IncrementStoreConflicts increments the optimistic-concurrency conflict counter.
func (pm *PrometheusMetrics) IncrementStoreConflicts(sessionID string) {
	if !pm.isEnabled() {
		return
	}
	pm.storeConflicts.WithLabelValues(sessionID).Inc()
}

// SetAwaitingInput sets the current count of suspended sessions.
func (pm *PrometheusMetrics) SetAwaitingInput(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.awaitingInput.Set(float64(count))
}

// IncrementIterationCapReached increments the iteration-cap counter.
func (pm *PrometheusMetrics) IncrementIterationCapReached() {
	if !pm.isEnabled() {
		return
	}
	pm.iterationCaps.Inc()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable stops metric recording (useful in tests sharing a registry).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

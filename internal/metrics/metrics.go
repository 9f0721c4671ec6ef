// Package metrics exposes the command plane's Prometheus instrumentation
// (SPEC_FULL.md DOMAIN STACK: "counters/histograms for pipeline stage
// latency, dispatch outcomes, circuit-breaker state, rate-limit
// rejections"). Grounded on the teacher's internal/escrow/metrics.go
// idiom: a single struct of promauto-registered vectors built once at
// startup and threaded through constructors, with small Record* helper
// methods rather than exposing raw prometheus types to callers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the command plane registers.
type Metrics struct {
	PipelineStageDuration *prometheus.HistogramVec
	PipelineStageTotal    *prometheus.CounterVec

	DispatchTotal      *prometheus.CounterVec
	DispatchLatency    *prometheus.HistogramVec

	CircuitBreakerState *prometheus.GaugeVec

	RateLimitRejected *prometheus.CounterVec

	SessionsActive prometheus.Gauge
	AuthAttempts   *prometheus.CounterVec
}

// New builds and registers the command plane's metrics. Safe to call once
// per process; registering twice against the default registry panics,
// matching promauto's own contract.
func New() *Metrics {
	return &Metrics{
		PipelineStageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commandplane_pipeline_stage_duration_seconds",
				Help:    "Duration of each mandate inference pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		PipelineStageTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commandplane_pipeline_stage_total",
				Help: "Pipeline stage completions by outcome",
			},
			[]string{"stage", "outcome"}, // outcome: ok, fallback, blocked
		),
		DispatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commandplane_dispatch_total",
				Help: "Dispatch attempts by status",
			},
			[]string{"status"}, // submitted, rejected, failed
		),
		DispatchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commandplane_dispatch_latency_ms",
				Help:    "Dispatch adapter call latency in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 15000, 30000},
			},
			[]string{"tenant"},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "commandplane_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"service"},
		),
		RateLimitRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commandplane_rate_limit_rejected_total",
				Help: "Requests rejected by the rate limiter, by bucket",
			},
			[]string{"bucket"},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "commandplane_sessions_active",
				Help: "Number of currently active sessions",
			},
		),
		AuthAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commandplane_auth_attempts_total",
				Help: "Authentication attempts by method and outcome",
			},
			[]string{"method", "outcome"}, // method: sso, legacy; outcome: ok, fail
		),
	}
}

// RecordPipelineStage records one stage's latency and outcome.
func (m *Metrics) RecordPipelineStage(stage, outcome string, durationSeconds float64) {
	m.PipelineStageDuration.WithLabelValues(stage).Observe(durationSeconds)
	m.PipelineStageTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordDispatch records one dispatch attempt's outcome and latency.
func (m *Metrics) RecordDispatch(tenantID, status string, latencyMS float64) {
	m.DispatchTotal.WithLabelValues(status).Inc()
	m.DispatchLatency.WithLabelValues(tenantID).Observe(latencyMS)
}

// SetCircuitState publishes a circuit breaker's numeric state for a
// service (0 closed, 1 half-open, 2 open).
func (m *Metrics) SetCircuitState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordRateLimitRejected increments the rejection counter for bucket.
func (m *Metrics) RecordRateLimitRejected(bucket string) {
	m.RateLimitRejected.WithLabelValues(bucket).Inc()
}

// RecordAuthAttempt records one authentication attempt.
func (m *Metrics) RecordAuthAttempt(method, outcome string) {
	m.AuthAttempts.WithLabelValues(method, outcome).Inc()
}

// SetActiveSessions publishes the current active session count.
func (m *Metrics) SetActiveSessions(n int) {
	m.SessionsActive.Set(float64(n))
}

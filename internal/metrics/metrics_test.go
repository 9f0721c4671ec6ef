package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// New registers every collector against the default Prometheus registry,
// which panics on a second registration. All assertions share one instance.
func TestMetrics_RecordingUpdatesExpectedSeries(t *testing.T) {
	m := New()

	m.RecordPipelineStage("l1_hypothesizer", "ok", 0.042)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PipelineStageTotal.WithLabelValues("l1_hypothesizer", "ok")))

	m.RecordDispatch("tenant-1", "submitted", 120)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DispatchTotal.WithLabelValues("submitted")))

	m.SetCircuitState("dispatch", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("dispatch")))

	m.RecordRateLimitRejected("ws_messages")
	m.RecordRateLimitRejected("ws_messages")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RateLimitRejected.WithLabelValues("ws_messages")))

	m.RecordAuthAttempt("sso", "ok")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthAttempts.WithLabelValues("sso", "ok")))

	m.SetActiveSessions(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.SessionsActive))
}

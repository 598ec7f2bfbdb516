package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveProxy("token", OutcomePassThrough, time.Now())
	m.ObserveProxy("token", OutcomePassThrough, time.Now())
	m.ObserveProxy("token", OutcomeError, time.Now())
	m.ObserveDecision("/secured", DecisionForbidden)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProxyRequests.WithLabelValues("token", OutcomePassThrough)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProxyRequests.WithLabelValues("token", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardDecisions.WithLabelValues("/secured", DecisionForbidden)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveProxy("discovery", OutcomeError, time.Now())
		m.ObserveDecision("/secured", DecisionAuthorized)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.ObserveDecision("/secured", DecisionAuthorized)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `playground_guard_decisions_total{decision="authorized",route="/secured"} 1`)
}

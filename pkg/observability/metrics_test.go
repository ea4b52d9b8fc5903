package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveQuery(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveQuery("list", nil, 10*time.Millisecond)
	m.ObserveQuery("list", errors.New("timeout"), time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueryTotal.WithLabelValues("list", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueryTotal.WithLabelValues("list", "error")))
}

func TestMetrics_Middleware(t *testing.T) {
	m := NewMetrics(nil)
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/audit-logs/99", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/audit-logs/99", "404")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.CaptureDropped.Inc()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "chronicle_capture_dropped_total 1")
}

func TestMetrics_CaptureCounters(t *testing.T) {
	m := NewMetrics(nil)

	m.CaptureTotal.WithLabelValues("create").Inc()
	m.CaptureTotal.WithLabelValues("create").Inc()
	m.CaptureRetries.Inc()
	m.CaptureFailures.Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CaptureTotal.WithLabelValues("create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CaptureRetries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CaptureFailures))
}

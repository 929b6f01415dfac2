package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.Dispatched()
	m.Dispatched()
	m.Completed(300*time.Millisecond, "")
	m.Completed(0, "poll")
	m.Skipped("quiet")
	m.Skipped("quiet")
	m.Result(true)
	m.Alert("rising")

	assert.InDelta(t, 2, testutil.ToFloat64(m.ChunksDispatched), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.InFlight), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.InferenceErrors.WithLabelValues("poll")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ChunksSkipped.WithLabelValues("quiet")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Results.WithLabelValues("ai")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Alerts.WithLabelValues("rising")), 0)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Dispatched()
		m.Completed(time.Second, "")
		m.Skipped("buffering")
		m.Result(false)
		m.Alert("falling")
	})
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestHandlerExposesSeries(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.Dispatched()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "voiceguard_chunks_dispatched_total 1"))
}

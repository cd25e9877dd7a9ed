package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/yueh-ai/voice-to-text/internal/registry"
)

type fakeRegistry struct {
	metrics registry.AggregateMetrics
	sweeps  int64
}

func (f fakeRegistry) AggregateMetrics() registry.AggregateMetrics {
	return f.metrics
}

func (f fakeRegistry) ReaperSweeps() int64 {
	return f.sweeps
}

func TestCollectorsHandlerReportsCurrentMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(fakeRegistry{metrics: registry.AggregateMetrics{
		ActiveSessions: 3,
		TotalSessions:  5,
		TotalPartials:  7,
		TotalFinals:    2,
		TotalErrors:    1,
	}, sweeps: 4}, reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transcription_active_sessions 3")
	assert.Contains(t, rec.Body.String(), "transcription_total_sessions 5")
	assert.Contains(t, rec.Body.String(), "transcription_partials_total 7")
	assert.Contains(t, rec.Body.String(), "transcription_finals_total 2")
	assert.Contains(t, rec.Body.String(), "transcription_errors_total 1")
	assert.Contains(t, rec.Body.String(), "transcription_reaper_sweeps_total 4")
}

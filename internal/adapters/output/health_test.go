package output

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

type fakePipeline struct {
	running   bool
	lastBatch time.Time
	batches   int64
	snap      domain.CountersSnapshot
}

func (f *fakePipeline) IsRunning() bool                   { return f.running }
func (f *fakePipeline) LastBatch() time.Time              { return f.lastBatch }
func (f *fakePipeline) Batches() int64                    { return f.batches }
func (f *fakePipeline) Counters() domain.CountersSnapshot { return f.snap }

func TestHealthCheckerStates(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		pipeline *fakePipeline
		healthy  bool
		status   string
	}{
		{"offline", &fakePipeline{}, false, "OFFLINE"},
		{"waiting", &fakePipeline{running: true}, true, "WAITING"},
		{"healthy", &fakePipeline{running: true, lastBatch: now.Add(-10 * time.Second), batches: 4}, true, "HEALTHY"},
		{"idle", &fakePipeline{running: true, lastBatch: now.Add(-time.Hour), batches: 4}, true, "IDLE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthChecker(tc.pipeline, DefaultHealthCheckerConfig())
			h.now = func() time.Time { return now }

			status := h.Check(context.Background())
			assert.Equal(t, tc.healthy, status.Healthy)
			assert.Equal(t, tc.status, status.Status)
		})
	}
}

func TestHealthCheckerCaches(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	p := &fakePipeline{running: true, lastBatch: now, batches: 1}
	h := NewHealthChecker(p, HealthCheckerConfig{IdleAfter: time.Minute, CheckInterval: 5 * time.Second})
	h.now = func() time.Time { return now }

	assert.Equal(t, int64(1), h.Check(context.Background()).Batches)

	p.batches = 2
	assert.Equal(t, int64(1), h.Check(context.Background()).Batches)

	h.now = func() time.Time { return now.Add(6 * time.Second) }
	assert.Equal(t, int64(2), h.Check(context.Background()).Batches)
}

func TestHealthCheckerServeHTTP(t *testing.T) {
	p := &fakePipeline{
		running:   true,
		lastBatch: time.Now(),
		batches:   3,
		snap:      domain.CountersSnapshot{Benign: 5, SignatureAlerts: 1, ClassifierAlerts: 2},
	}
	h := NewHealthChecker(p, DefaultHealthCheckerConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.Equal(t, int64(5), status.Benign)
	assert.Equal(t, int64(2), status.ClassifierAlerts)

	offline := NewHealthChecker(&fakePipeline{}, DefaultHealthCheckerConfig())
	rec = httptest.NewRecorder()
	offline.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

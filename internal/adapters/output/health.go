package output

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

// PipelineState is the view of the pipeline the readiness check needs.
type PipelineState interface {
	IsRunning() bool
	LastBatch() time.Time
	Batches() int64
	Counters() domain.CountersSnapshot
}

type HealthStatus struct {
	Healthy          bool    `json:"healthy"`
	Status           string  `json:"status"`
	Batches          int64   `json:"batches"`
	LastBatchAge     float64 `json:"last_batch_age_seconds"`
	Benign           int64   `json:"benign"`
	SignatureAlerts  int64   `json:"signature_alerts"`
	ClassifierAlerts int64   `json:"classifier_alerts"`
	Malformed        int64   `json:"malformed"`
	Uptime           float64 `json:"uptime_seconds"`
	Reason           string  `json:"reason,omitempty"`
}

// HealthChecker reports readiness: the pipeline is running. A pipeline that
// has not seen a batch for IdleAfter is still ready but reported as IDLE, since
// a quiet sensor is not a fault.
type HealthChecker struct {
	pipeline  PipelineState
	idleAfter time.Duration
	now       func() time.Time

	lastCheck     HealthStatus
	lastCheckTime time.Time
	lastCheckMu   sync.RWMutex
	checkInterval time.Duration
}

type HealthCheckerConfig struct {
	IdleAfter     time.Duration
	CheckInterval time.Duration
}

func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		IdleAfter:     5 * time.Minute,
		CheckInterval: time.Second,
	}
}

func NewHealthChecker(pipeline PipelineState, config HealthCheckerConfig) *HealthChecker {
	return &HealthChecker{
		pipeline:      pipeline,
		idleAfter:     config.IdleAfter,
		checkInterval: config.CheckInterval,
		now:           time.Now,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.lastCheckMu.RLock()
	if !h.lastCheckTime.IsZero() && h.now().Sub(h.lastCheckTime) < h.checkInterval {
		cached := h.lastCheck
		h.lastCheckMu.RUnlock()
		return cached
	}
	h.lastCheckMu.RUnlock()

	status := h.performCheck()

	h.lastCheckMu.Lock()
	h.lastCheck = status
	h.lastCheckTime = h.now()
	h.lastCheckMu.Unlock()

	return status
}

func (h *HealthChecker) performCheck() HealthStatus {
	if h.pipeline == nil || !h.pipeline.IsRunning() {
		return HealthStatus{
			Healthy: false,
			Status:  "OFFLINE",
			Reason:  "pipeline not running",
		}
	}

	snap := h.pipeline.Counters()
	status := HealthStatus{
		Healthy:          true,
		Status:           "HEALTHY",
		Batches:          h.pipeline.Batches(),
		Benign:           snap.Benign,
		SignatureAlerts:  snap.SignatureAlerts,
		ClassifierAlerts: snap.ClassifierAlerts,
		Malformed:        snap.Malformed,
		Uptime:           snap.Uptime.Seconds(),
	}

	last := h.pipeline.LastBatch()
	if last.IsZero() {
		status.Status = "WAITING"
		status.Reason = "no log lines received yet"
		return status
	}

	age := h.now().Sub(last)
	status.LastBatchAge = age.Seconds()
	if h.idleAfter > 0 && age > h.idleAfter {
		status.Status = "IDLE"
		status.Reason = "no log lines received for " + age.Truncate(time.Second).String()
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	body, err := json.Marshal(status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Write(body)
}

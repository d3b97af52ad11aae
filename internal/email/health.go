package email

import (
	"sync"
	"time"
)

// HealthMetrics is a point-in-time view of a session's health.
type HealthMetrics struct {
	LastSuccessfulFetch time.Time     `json:"last_successful_fetch"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	IsHealthy           bool          `json:"is_healthy"`
	State               SessionState  `json:"state"`
	DisableReason       DisableReason `json:"disable_reason"`
}

// HealthTracker counts failures since the last successful fetch.
type HealthTracker struct {
	mu          sync.Mutex
	lastSuccess time.Time
	failures    int
}

func (h *HealthTracker) RecordSuccess(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSuccess = at
	h.failures = 0
}

// RecordFailure returns the new consecutive failure count.
func (h *HealthTracker) RecordFailure() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	return h.failures
}

func (h *HealthTracker) Snapshot() (lastSuccess time.Time, failures int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSuccess, h.failures
}

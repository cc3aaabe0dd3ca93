package service

import (
	"sync"
	"time"
)

const defaultUnhealthyAfter = 3

// StoreHealth counts consecutive record-store failures across all records.
// The readiness probe reports unhealthy once the count reaches the threshold.
type StoreHealth struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	lastErr     error
	lastFailure time.Time
}

// StoreHealthSnapshot is the readiness view of StoreHealth.
type StoreHealthSnapshot struct {
	Healthy     bool
	Consecutive int
	LastError   string
	LastFailure time.Time
}

// NewStoreHealth returns a tracker; threshold <= 0 uses 3.
func NewStoreHealth(threshold int) *StoreHealth {
	if threshold <= 0 {
		threshold = defaultUnhealthyAfter
	}
	return &StoreHealth{threshold: threshold}
}

// Success resets the failure streak.
func (h *StoreHealth) Success() {
	h.mu.Lock()
	h.consecutive = 0
	h.mu.Unlock()
}

// Failure extends the failure streak.
func (h *StoreHealth) Failure(err error, at time.Time) {
	h.mu.Lock()
	h.consecutive++
	h.lastErr = err
	h.lastFailure = at
	h.mu.Unlock()
}

// Snapshot returns the current state.
func (h *StoreHealth) Snapshot() StoreHealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := StoreHealthSnapshot{
		Healthy:     h.consecutive < h.threshold,
		Consecutive: h.consecutive,
		LastFailure: h.lastFailure,
	}
	if h.lastErr != nil {
		s.LastError = h.lastErr.Error()
	}
	return s
}

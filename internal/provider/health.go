// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package provider

import (
	"sync"
	"time"

	isaacerr "github.com/trustdental/isaac/pkg/errors"
	"github.com/trustdental/isaac/pkg/health"
)

// DefaultHealthCooldown is the duration after which an unhealthy provider
// becomes eligible for retry.
const DefaultHealthCooldown = 30 * time.Second

// HealthTracker provides simple health state tracking for providers.
// A provider is considered healthy until RecordFailure is called. After a
// failure it stays unhealthy for a cooldown period, then becomes
// available again to allow recovery.
type HealthTracker struct {
	mu           sync.RWMutex
	healthy      bool
	failedAt     time.Time
	cooldown     time.Duration
	failureCount int64
	nowFunc      func() time.Time // for testing
}

// NewHealthTracker creates a HealthTracker that starts healthy.
func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, isaacerr.Errorf(isaacerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &HealthTracker{
		healthy:  true,
		cooldown: cooldown,
		nowFunc:  time.Now,
	}, nil
}

// IsHealthy returns true if the provider is healthy or the cooldown has
// elapsed.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.healthy {
		return true
	}
	return h.nowFunc().Sub(h.failedAt) >= h.cooldown
}

// RecordSuccess marks the provider as healthy.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.healthy = true
	h.mu.Unlock()
}

// RecordFailure marks the provider as unhealthy and increments the
// cumulative failure count.
func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	h.healthy = false
	h.failedAt = h.nowFunc()
	h.failureCount++
	h.mu.Unlock()
}

// FailureCount returns the cumulative failure count.
func (h *HealthTracker) FailureCount() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.failureCount
}

// Metrics returns a point-in-time snapshot of the tracker state.
func (h *HealthTracker) Metrics() health.Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := health.Metrics{
		FailureCount: h.failureCount,
		Available:    h.healthy || h.nowFunc().Sub(h.failedAt) >= h.cooldown,
	}
	if !h.failedAt.IsZero() {
		failedAt := h.failedAt
		m.LastFailureAt = &failedAt
		if !h.healthy {
			until := h.failedAt.Add(h.cooldown)
			if h.nowFunc().Before(until) {
				m.CooldownUntil = &until
			}
		}
	}
	return m
}

// SetNowFunc overrides the time source (for testing).
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

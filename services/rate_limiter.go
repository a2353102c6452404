package services

import (
	"log/slog"
	"sync"
	"time"
)

// LoginLimiter is a sliding one-minute window limiter keyed by client, used
// to throttle password attempts.
type LoginLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	lastRequests      map[string][]time.Time
	now               func() time.Time
}

// NewLoginLimiter creates a limiter allowing rpm attempts per key per minute.
// A non-positive rpm disables limiting.
func NewLoginLimiter(rpm int) *LoginLimiter {
	return &LoginLimiter{
		requestsPerMinute: rpm,
		lastRequests:      make(map[string][]time.Time),
		now:               time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within limits.
// Rejected attempts are not recorded.
func (r *LoginLimiter) Allow(key string) bool {
	if r.requestsPerMinute <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-time.Minute)

	// Remove old requests outside the window
	validRequests := r.lastRequests[key][:0]
	for _, t := range r.lastRequests[key] {
		if t.After(windowStart) {
			validRequests = append(validRequests, t)
		}
	}

	if len(validRequests) >= r.requestsPerMinute {
		r.lastRequests[key] = validRequests
		slog.Info("Login rate limit reached", "key", key, "rpm", r.requestsPerMinute)
		return false
	}

	r.lastRequests[key] = append(validRequests, now)
	r.prune(windowStart)
	return true
}

// prune drops keys with no attempts inside the window so idle clients do not
// accumulate.
func (r *LoginLimiter) prune(windowStart time.Time) {
	for key, times := range r.lastRequests {
		if len(times) == 0 || !times[len(times)-1].After(windowStart) {
			delete(r.lastRequests, key)
		}
	}
}

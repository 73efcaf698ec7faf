package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/jazzmind/vibefunder/internal/services/auth/login"
)

// rateLimiter is an in-memory sliding-window request counter keyed by client
// IP. It fronts the credential endpoints; the durable per-IP failed-attempt
// window inside the login machine backs it across restarts.
type rateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	requests  map[string][]time.Time
	lastSweep time.Time
	clock     func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:    limit,
		window:   window,
		requests: make(map[string][]time.Time),
		clock:    time.Now,
	}
}

// allow records a request for the key and reports whether it is within the
// window limit.
func (l *rateLimiter) allow(key string) bool {
	if l == nil || key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	cutoff := now.Add(-l.window)
	l.sweep(now, cutoff)

	recent := l.requests[key][:0]
	for _, at := range l.requests[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= l.limit {
		l.requests[key] = recent
		return false
	}
	l.requests[key] = append(recent, now)
	return true
}

// sweep drops keys whose every entry fell out of the window, at most once per
// window, so the map does not grow with one-off client IPs.
func (l *rateLimiter) sweep(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, entries := range l.requests {
		stale := true
		for _, at := range entries {
			if at.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.requests, key)
		}
	}
}

// withRateLimit rejects requests from IPs that exceed the request window.
func (s *AuthService) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			s.writeError(w, login.ErrTooManyAttempts)
			return
		}
		next(w, r)
	}
}

package auth

import (
	"net/http"
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	limiter := newRateLimiter(3, time.Minute)
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	limiter.clock = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !limiter.allow("203.0.113.9") {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if limiter.allow("203.0.113.9") {
		t.Fatal("fourth request should be throttled")
	}

	// A different key has its own window.
	if !limiter.allow("198.51.100.7") {
		t.Fatal("other key should pass")
	}

	// Once the window slides past the earlier requests, the key recovers.
	now = now.Add(2 * time.Minute)
	if !limiter.allow("203.0.113.9") {
		t.Fatal("request after window should pass")
	}
}

func TestRateLimiterDropsIdleKeys(t *testing.T) {
	limiter := newRateLimiter(3, time.Minute)
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	limiter.clock = func() time.Time { return now }

	for _, key := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		if !limiter.allow(key) {
			t.Fatalf("request for %s should pass", key)
		}
	}
	if len(limiter.requests) != 3 {
		t.Fatalf("tracked keys = %d, want 3", len(limiter.requests))
	}

	// Once every entry for the one-off keys has aged out, the next request
	// sweeps them instead of letting the map grow with idle clients.
	now = now.Add(2 * time.Minute)
	if !limiter.allow("198.51.100.7") {
		t.Fatal("fresh key should pass")
	}
	if len(limiter.requests) != 1 {
		t.Fatalf("tracked keys after sweep = %d, want 1", len(limiter.requests))
	}
	if _, ok := limiter.requests["198.51.100.7"]; !ok {
		t.Fatal("expected only the fresh key to remain")
	}
}

func TestRateLimiterEmptyKey(t *testing.T) {
	limiter := newRateLimiter(1, time.Minute)
	for i := 0; i < 5; i++ {
		if !limiter.allow("") {
			t.Fatal("empty key is never throttled")
		}
	}
}

func TestLoginEndpointThrottles(t *testing.T) {
	f := newFixture(t, testUser(t, "correct horse"))
	f.service.limiter = newRateLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		response := f.post(t, "/api/auth/login", `{"email":"alice@example.com","password":"wrong"}`)
		if response.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i+1, response.StatusCode)
		}
	}
	response := f.post(t, "/api/auth/login", `{"email":"alice@example.com","password":"correct horse"}`)
	if response.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", response.StatusCode)
	}
	if body := decodeBody(t, response); body["error"] != "Too many login attempts" {
		t.Fatalf("unexpected body: %v", body)
	}
}

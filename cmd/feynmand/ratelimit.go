// ABOUTME: Per-key rate limiting using token bucket algorithm.
// ABOUTME: Keys are user ids for record endpoints and client IPs for the outer guard.

package main

import (
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	Interval time.Duration // Time between allowed requests
	Burst    int           // Max burst size
}

// DefaultRateLimitConfig returns ~100 req/min with burst of 10, sized
// for one sync cycle's pull and double push per user.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Interval: 600 * time.Millisecond,
		Burst:    10,
	}
}

// IPRateLimitConfig returns the stricter per-IP limit applied before
// authentication, ~30 req/min with burst of 15.
func IPRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Interval: 2 * time.Second,
		Burst:    15,
	}
}

// rateLimiterStore manages per-key rate limiters.
type rateLimiterStore struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	config   RateLimitConfig
}

func newRateLimiterStore(config RateLimitConfig) *rateLimiterStore {
	return &rateLimiterStore{
		limiters: make(map[string]*rate.Limiter),
		config:   config,
	}
}

func (s *rateLimiterStore) get(key string) *rate.Limiter {
	s.mu.RLock()
	limiter, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if limiter, ok := s.limiters[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Every(s.config.Interval), s.config.Burst)
	s.limiters[key] = limiter
	return limiter
}

func (s *rateLimiterStore) setConfig(interval time.Duration, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = RateLimitConfig{Interval: interval, Burst: burst}
	// Clear existing limiters so they pick up new config
	s.limiters = make(map[string]*rate.Limiter)
}

// getClientIP extracts the client IP. Proxy headers are only honored
// when TRUSTED_PROXY=1; otherwise they are trivially spoofable and the
// socket address wins.
func getClientIP(r *http.Request) string {
	if os.Getenv("TRUSTED_PROXY") == "1" {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			// First hop is the original client.
			if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

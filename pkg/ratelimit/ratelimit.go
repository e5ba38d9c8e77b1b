// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package ratelimit throttles socket API callers with one token bucket per
// caller.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Limiter implements a token bucket rate limiter with per-caller tracking.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	enabled  bool
	clock    clock.Clock

	cleanupInterval time.Duration
	maxIdle         time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// RequestsPerSecond sets the sustained rate per caller.
	RequestsPerSecond float64

	// Burst allows short bursts above the sustained rate. Defaults to
	// RequestsPerSecond rounded up.
	Burst int

	// CleanupInterval controls how often idle callers are forgotten.
	// Defaults to 5 minutes.
	CleanupInterval time.Duration

	// MaxIdle is how long a caller can be idle before cleanup.
	// Defaults to 15 minutes.
	MaxIdle time.Duration

	// Clock is used for idle tracking. Defaults to the wall clock.
	Clock clock.Clock
}

// New creates a limiter. When enabled, a cleanup worker runs until Stop.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{}
	}

	burst := config.Burst
	if burst <= 0 {
		burst = int(config.RequestsPerSecond + 0.999)
		if burst < 1 {
			burst = 1
		}
	}
	cleanupInterval := config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	maxIdle := config.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 15 * time.Minute
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}

	l := &Limiter{
		limiters:        make(map[string]*rate.Limiter),
		lastSeen:        make(map[string]time.Time),
		rate:            rate.Limit(config.RequestsPerSecond),
		burst:           burst,
		enabled:         config.Enabled,
		clock:           clk,
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopCleanup:     make(chan struct{}),
	}

	if l.enabled {
		go l.cleanupWorker()
	}
	return l
}

func (l *Limiter) getLimiter(key string) (*rate.Limiter, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	now := l.clock.Now()
	l.lastSeen[key] = now
	return limiter, now
}

// Allow reports whether a request from key is within its budget.
func (l *Limiter) Allow(key string) bool {
	if !l.enabled {
		return true
	}
	limiter, now := l.getLimiter(key)
	return limiter.AllowN(now, 1)
}

func (l *Limiter) cleanupWorker() {
	ticker := l.clock.Ticker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup forgets callers idle for longer than maxIdle.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for key, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.maxIdle {
			delete(l.limiters, key)
			delete(l.lastSeen, key)
		}
	}
}

// Stop stops the cleanup worker. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// Tracked returns the number of callers with a live bucket.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// IsEnabled returns whether rate limiting is enabled.
func (l *Limiter) IsEnabled() bool {
	return l.enabled
}

// KeyFunc derives the caller key from a request.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over budget with 429.
func Middleware(limiter *Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(key(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package httpapi

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rate limiting defaults.
const (
	// DefaultCleanupInterval is how often idle clients are forgotten.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultClientMaxAge is how long an idle client keeps its bucket.
	DefaultClientMaxAge = time.Hour
)

// RateLimiterConfig configures the per-client limiter. Requests tokens are
// refilled evenly over Window; a full bucket allows a burst of Requests.
type RateLimiterConfig struct {
	Requests int
	Window   time.Duration

	// CleanupInterval defaults to DefaultCleanupInterval.
	CleanupInterval time.Duration
	// ClientMaxAge defaults to DefaultClientMaxAge.
	ClientMaxAge time.Duration
}

// clientBucket is the token bucket of one client address.
type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter implements per-client rate limiting using a token bucket
// algorithm. It is safe for concurrent use.
//
// A background goroutine forgets idle clients. Call Close to stop it.
type RateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientBucket
	capacity     float64
	refillPerSec float64
	maxAge       time.Duration
	now          func() time.Time

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	clientGauge prometheus.Gauge
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine. reg may
// be nil; otherwise a gauge of tracked clients is registered with it.
func NewRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	requests := cfg.Requests
	if requests < 1 {
		requests = 1
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = DefaultCleanupInterval
	}
	maxAge := cfg.ClientMaxAge
	if maxAge <= 0 {
		maxAge = DefaultClientMaxAge
	}

	rl := &RateLimiter{
		clients:      make(map[string]*clientBucket),
		capacity:     float64(requests),
		refillPerSec: float64(requests) / window.Seconds(),
		maxAge:       maxAge,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}

	if reg != nil {
		rl.clientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_ratelimiter_clients",
			Help: "Current number of tracked rate limiter clients",
		})
		reg.MustRegister(rl.clientGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanup)

	return rl
}

// Allow consumes one token for key. When the bucket is empty it returns
// false and the wait until the next token.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	bucket, exists := rl.clients[key]
	if !exists {
		bucket = &clientBucket{tokens: rl.capacity, lastCheck: now}
		rl.clients[key] = bucket
	}

	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens += elapsed * rl.refillPerSec
	if bucket.tokens > rl.capacity {
		bucket.tokens = rl.capacity
	}
	bucket.lastCheck = now

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true, 0
	}

	deficit := 1.0 - bucket.tokens
	return false, time.Duration(deficit / rl.refillPerSec * float64(time.Second))
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Cleanup forgets clients not seen for maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for key, bucket := range rl.clients {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.clients, key)
		}
	}

	if rl.clientGauge != nil {
		rl.clientGauge.Set(float64(len(rl.clients)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.maxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it. Safe to call twice.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stopChan) })
	rl.wg.Wait()
}

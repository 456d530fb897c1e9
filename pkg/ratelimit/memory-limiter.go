package ratelimit

import (
	"d20d/pkg/utils/logger"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	limit    int64
	window   time.Duration
	lastSeen time.Time
}

// MemoryRateLimiter keeps one token bucket per key in process memory.
type MemoryRateLimiter struct {
	buckets   map[string]*bucket
	mu        sync.Mutex
	maxTokens int64
	window    time.Duration
	ttl       time.Duration // idle buckets older than this are dropped
	logger    *logger.Logger
	now       func() time.Time
	stop      chan struct{}
	closeOnce sync.Once
}

func NewMemoryRateLimiter(maxRequests int64, window time.Duration, logger *logger.Logger) *MemoryRateLimiter {
	limiter := &MemoryRateLimiter{
		buckets:   make(map[string]*bucket),
		maxTokens: maxRequests,
		window:    window,
		ttl:       window * 2,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

// Allow checks if a request should be allowed for the given key
// Returns: allowed (bool), remaining (int64), resetTime (time.Time)
func (m *MemoryRateLimiter) Allow(key string) (bool, int64, time.Time) {
	return m.AllowWithLimit(key, m.maxTokens, m.window)
}

func (m *MemoryRateLimiter) AllowWithLimit(key string, limit int64, window time.Duration) (bool, int64, time.Time) {
	now := m.now()
	if limit <= 0 {
		return false, 0, now.Add(window)
	}

	m.mu.Lock()
	b, exists := m.buckets[key]
	if !exists || b.limit != limit || b.window != window {
		b = &bucket{
			limiter: rate.NewLimiter(refillRate(limit, window), int(limit)),
			limit:   limit,
			window:  window,
		}
		m.buckets[key] = b
		m.logger.Debug(fmt.Sprintf("Created new token bucket for key %s", key))
	}
	b.lastSeen = now
	m.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	remaining := int64(tokens)
	if remaining < 0 {
		remaining = 0
	}

	resetTime := now
	if missing := float64(limit) - tokens; missing > 0 {
		resetTime = now.Add(time.Duration(missing / float64(b.limiter.Limit()) * float64(time.Second)))
	}

	if allowed {
		m.logger.Debug(fmt.Sprintf("Rate limit check passed for key %s", key))
	} else {
		m.logger.Debug(fmt.Sprintf("Rate limit check failed for key %s", key))
	}

	return allowed, remaining, resetTime
}

func refillRate(limit int64, window time.Duration) rate.Limit {
	if window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(limit) / window.Seconds())
}

func (m *MemoryRateLimiter) cleanup() {
	interval := m.ttl
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryRateLimiter) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.ttl {
			delete(m.buckets, key)
		}
	}
}

// Reset removes the rate limit entry for a specific key
func (m *MemoryRateLimiter) Reset(key string) {
	m.logger.Debug(fmt.Sprintf("Resetting rate limit for key %s", key))
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
}

// Health always succeeds; there is no external dependency.
func (m *MemoryRateLimiter) Health() error {
	return nil
}

func (m *MemoryRateLimiter) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		m.buckets = make(map[string]*bucket)
		m.mu.Unlock()
	})
	return nil
}

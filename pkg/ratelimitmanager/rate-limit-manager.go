package ratelimitmanager

import (
	"d20d/pkg/models"
	"d20d/pkg/ratelimit"
	"d20d/pkg/utils/logger"
	"fmt"
	"net"
	"sync"
	"time"
)

const healthCheckInterval = 30 * time.Second

// RateLimitManager fronts a single limiter backend for the connection loop.
type RateLimitManager struct {
	limiter      ratelimit.IRateLimiter
	logger       *logger.Logger
	healthTicker *time.Ticker
	stopChan     chan struct{}
	closeOnce    sync.Once
}

// NewRateLimitManager creates a RateLimitManager configured with the provided limiter and logger.
// It initializes internal channels and starts periodic health monitoring for the limiter.
func NewRateLimitManager(limiter ratelimit.IRateLimiter, logger *logger.Logger) *RateLimitManager {
	manager := &RateLimitManager{
		limiter:  limiter,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	manager.startHealthMonitoring(healthCheckInterval)

	return manager
}

func allowAll() *ratelimit.RateLimitResult {
	return &ratelimit.RateLimitResult{
		Allowed:   true,
		Remaining: -1,
		Limit:     -1,
	}
}

// Check decides whether the client at remote may be served under config.
func (rlm *RateLimitManager) Check(remote net.Addr, config *models.RateLimitConfig) *ratelimit.RateLimitResult {
	if rlm == nil || rlm.limiter == nil || config == nil || !config.Enabled {
		return allowAll()
	}

	key := ratelimit.BuildKey(remote)
	if key == "" {
		rlm.logger.Warn("Cannot derive rate limit key, allowing request to avoid blocking all traffic")
		return allowAll()
	}

	allowed, remaining, resetTime := rlm.limiter.AllowWithLimit(key, *config.Requests, *config.Window)

	if allowed {
		rlm.logger.Debug(fmt.Sprintf("Rate limit check passed for key '%s': %d/%d remaining", key, remaining, *config.Requests))
	} else {
		rlm.logger.Warn(fmt.Sprintf("Rate limit exceeded for key '%s', reset at %v", key, resetTime.Format(time.RFC3339)))
	}

	return &ratelimit.RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetTime: resetTime,
		Limit:     *config.Requests,
		Key:       key,
	}
}

// Reset resets the rate limit for a specific key
func (rlm *RateLimitManager) Reset(key string) {
	if rlm.limiter == nil {
		rlm.logger.Warn("Cannot reset rate limit: limiter is nil")
		return
	}
	rlm.logger.Debug(fmt.Sprintf("Resetting rate limit for key: %s", key))
	rlm.limiter.Reset(key)
}

func (rlm *RateLimitManager) startHealthMonitoring(interval time.Duration) {
	if rlm.limiter == nil {
		return
	}

	rlm.healthTicker = time.NewTicker(interval)
	ticker, stop := rlm.healthTicker, rlm.stopChan

	go func() {
		for {
			select {
			case <-ticker.C:
				rlm.performHealthCheck()
			case <-stop:
				return
			}
		}
	}()
}

func (rlm *RateLimitManager) performHealthCheck() {
	if err := rlm.limiter.Health(); err != nil {
		rlm.logger.Error(fmt.Sprintf("Rate limiter health check failed: %v", err))
	}
}

// Close stops health monitoring and closes the backend. Safe to call twice.
func (rlm *RateLimitManager) Close() error {
	var err error
	rlm.closeOnce.Do(func() {
		if rlm.healthTicker != nil {
			rlm.healthTicker.Stop()
		}
		close(rlm.stopChan)
		if rlm.limiter != nil {
			err = rlm.limiter.Close()
		}
	})
	return err
}

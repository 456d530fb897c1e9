package ratelimit

import (
	"d20d/pkg/models"
	"d20d/pkg/utils/logger"
	"d20d/pkg/utils/system"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	STORAGE_MEMORY = "memory"
	STORAGE_REDIS  = "redis"
)

// IRateLimiter defines the interface for rate limiting implementations
type IRateLimiter interface {
	Allow(key string) (bool, int64, time.Time)
	AllowWithLimit(key string, limit int64, window time.Duration) (bool, int64, time.Time)
	Reset(key string)
	Health() error
	Close() error
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	ResetTime time.Time
	Limit     int64
	Key       string
}

// SetDefaults fills in any unset fields of config.
func SetDefaults(config *models.RateLimitConfig) {
	if config == nil {
		return
	}

	if config.Requests == nil {
		requests := int64(100)
		config.Requests = &requests
	}
	if config.Window == nil {
		window := time.Minute
		config.Window = &window
	}
	if config.Storage == "" {
		config.Storage = STORAGE_MEMORY
	}
	if config.Message == "" {
		config.Message = "Rate limit exceeded"
	}
}

// NewRateLimiter builds the backend named by config.Storage. A nil or
// disabled config yields a nil limiter.
func NewRateLimiter(config *models.RateLimitConfig, logger *logger.Logger) (IRateLimiter, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	SetDefaults(config)

	var limiter IRateLimiter

	switch strings.ToLower(config.Storage) {
	case STORAGE_MEMORY:
		limiter = NewMemoryRateLimiter(*config.Requests, *config.Window, logger)
	case STORAGE_REDIS:
		if config.Redis == nil {
			return nil, fmt.Errorf("redis configuration required for redis rate limiter")
		}
		limiter = NewRedisRateLimiter(config.Redis, *config.Requests, *config.Window, logger)
	default:
		return nil, fmt.Errorf("unsupported rate limit storage type: %s", config.Storage)
	}

	return limiter, nil
}

// BuildKey returns the rate limit key for a client connection: its IP.
func BuildKey(remote net.Addr) string {
	return system.RemoteIP(remote)
}

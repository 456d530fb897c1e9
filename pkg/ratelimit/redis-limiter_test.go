package ratelimit

import (
	"d20d/pkg/models"
	"testing"
	"time"
)

func TestNewRedisRateLimiter_DefaultValues(t *testing.T) {
	config := &models.RedisConfig{
		Address:      "localhost:6379",
		KeyNamespace: "test:",
	}
	limiter := NewRedisRateLimiter(config, 100, time.Minute, createTestLogger(t))
	defer limiter.Close()

	if limiter.maxTokens != 100 {
		t.Errorf("Expected maxTokens=100, got %d", limiter.maxTokens)
	}
	if limiter.namespace != "test:" {
		t.Errorf("Expected namespace='test:', got '%s'", limiter.namespace)
	}
	if !limiter.failOpen {
		t.Error("Expected failOpen=true by default")
	}
}

func TestNewRedisRateLimiter_NamespaceFormatting(t *testing.T) {
	limiter := NewRedisRateLimiter(&models.RedisConfig{Address: "localhost:6379", KeyNamespace: "d20d"}, 100, time.Minute, createTestLogger(t))
	defer limiter.Close()
	if limiter.namespace != "d20d:" {
		t.Errorf("Expected namespace to be appended with ':', got '%s'", limiter.namespace)
	}
}

func TestNewRedisRateLimiter_EmptyNamespace(t *testing.T) {
	limiter := NewRedisRateLimiter(&models.RedisConfig{Address: "localhost:6379"}, 100, time.Minute, createTestLogger(t))
	defer limiter.Close()
	if limiter.namespace != defaultRedisNamespace {
		t.Errorf("Expected default namespace, got '%s'", limiter.namespace)
	}
	if got := limiter.key("192.168.1.1"); got != "d20d:ratelimit:192.168.1.1" {
		t.Errorf("Unexpected key %q", got)
	}
}

// Port 1 on loopback refuses connections, so every script call fails.
func unreachableRedis(failOpen bool) *models.RedisConfig {
	return &models.RedisConfig{
		Address:  "127.0.0.1:1",
		FailOpen: &failOpen,
	}
}

func TestRedisRateLimiter_FailOpen(t *testing.T) {
	limiter := NewRedisRateLimiter(unreachableRedis(true), 10, time.Minute, createTestLogger(t))
	defer limiter.Close()

	allowed, remaining, _ := limiter.Allow("10.0.0.1")
	if !allowed {
		t.Error("Expected request to be allowed when redis is down and failOpen=true")
	}
	if remaining != 10 {
		t.Errorf("Expected remaining=10, got %d", remaining)
	}
	if err := limiter.Health(); err == nil {
		t.Error("Expected health check to fail against an unreachable redis")
	}
}

func TestRedisRateLimiter_FailClosed(t *testing.T) {
	limiter := NewRedisRateLimiter(unreachableRedis(false), 10, time.Minute, createTestLogger(t))
	defer limiter.Close()

	if allowed, _, _ := limiter.Allow("10.0.0.1"); allowed {
		t.Error("Expected request to be refused when redis is down and failOpen=false")
	}
}

func TestRedisRateLimiter_AllowWithLimit_ZeroLimit(t *testing.T) {
	limiter := NewRedisRateLimiter(&models.RedisConfig{Address: "localhost:6379"}, 100, time.Minute, createTestLogger(t))
	defer limiter.Close()

	allowed, remaining, _ := limiter.AllowWithLimit("test-key", 0, time.Minute)
	if allowed {
		t.Error("Should not allow with zero limit")
	}
	if remaining != 0 {
		t.Errorf("Expected remaining=0, got %d", remaining)
	}
}

func TestSafeConvertToInt64_VariousTypes(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected int64
		ok       bool
	}{
		{"int64", int64(42), 42, true},
		{"int", int(42), 42, true},
		{"int32", int32(42), 42, true},
		{"float64", float64(42.0), 42, true},
		{"string valid", "42", 42, true},
		{"string invalid", "abc", 0, false},
		{"bytes valid", []byte("42"), 42, true},
		{"nil", nil, 0, false},
		{"unknown type", struct{}{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := safeConvertToInt64(tt.input)
			if ok != tt.ok {
				t.Errorf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && result != tt.expected {
				t.Errorf("Expected result=%d, got %d", tt.expected, result)
			}
		})
	}
}

func TestSafeConvertToBool_VariousTypes(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected bool
		ok       bool
	}{
		{"bool true", true, true, true},
		{"bool false", false, false, true},
		{"int64 1", int64(1), true, true},
		{"int64 0", int64(0), false, true},
		{"int 1", int(1), true, true},
		{"float64 1", float64(1.0), true, true},
		{"string true", "true", true, true},
		{"string 1", "1", true, true},
		{"bytes true", []byte("true"), true, true},
		{"nil", nil, false, false},
		{"unknown", struct{}{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := safeConvertToBool(tt.input)
			if ok != tt.ok {
				t.Errorf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && result != tt.expected {
				t.Errorf("Expected result=%v, got %v", tt.expected, result)
			}
		})
	}
}

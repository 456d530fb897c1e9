package ratelimit

import (
	"context"
	"d20d/pkg/models"
	"d20d/pkg/utils/logger"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisNamespace = "d20d:ratelimit:"

// tokenBucketScript refills and consumes atomically so every server sharing
// the redis instance sees one bucket per key.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local max_tokens = tonumber(ARGV[1])
	local refill_rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local window = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill')
	local tokens = tonumber(state[1]) or max_tokens
	local last_refill = tonumber(state[2]) or now

	local elapsed = now - last_refill
	local tokens_to_add = math.floor(elapsed * refill_rate)
	if tokens_to_add > 0 then
		tokens = math.min(tokens + tokens_to_add, max_tokens)
		last_refill = now
	end

	local allowed = 0
	if tokens > 0 then
		tokens = tokens - 1
		allowed = 1
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill', last_refill)
	redis.call('EXPIRE', key, window * 2)

	local tokens_needed = max_tokens - tokens
	local seconds_to_reset = 0
	if tokens_needed > 0 and refill_rate > 0 then
		seconds_to_reset = math.ceil(tokens_needed / refill_rate)
	end

	return {allowed, tokens, now + seconds_to_reset}
`)

// RedisRateLimiter implements distributed rate limiting using Redis
type RedisRateLimiter struct {
	client    *redis.Client
	namespace string
	maxTokens int64
	window    time.Duration
	failOpen  bool
	timeout   time.Duration
	logger    *logger.Logger
}

func NewRedisRateLimiter(config *models.RedisConfig, maxRequests int64, window time.Duration, logger *logger.Logger) *RedisRateLimiter {
	db := 0
	if config.DB != nil {
		db = *config.DB
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          db,
		DialTimeout: 2 * time.Second,
		MaxRetries:  -1,
	})

	namespace := config.KeyNamespace
	if namespace == "" {
		namespace = defaultRedisNamespace
	} else if namespace[len(namespace)-1] != ':' {
		namespace += ":"
	}

	failOpen := true
	if config.FailOpen != nil {
		failOpen = *config.FailOpen
	}

	return &RedisRateLimiter{
		client:    client,
		namespace: namespace,
		maxTokens: maxRequests,
		window:    window,
		failOpen:  failOpen,
		timeout:   2 * time.Second,
		logger:    logger,
	}
}

func (r *RedisRateLimiter) Allow(key string) (bool, int64, time.Time) {
	return r.AllowWithLimit(key, r.maxTokens, r.window)
}

func (r *RedisRateLimiter) AllowWithLimit(key string, limit int64, window time.Duration) (bool, int64, time.Time) {
	now := time.Now()
	if limit <= 0 {
		return false, 0, now.Add(window)
	}

	refill := float64(limit) / window.Seconds()
	if refill < 0.01 {
		refill = 0.01
	}

	windowSecs := int64(window.Seconds())
	if windowSecs < 1 {
		windowSecs = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	result, err := tokenBucketScript.Run(ctx, r.client, []string{r.key(key)},
		limit,
		refill,
		now.Unix(),
		windowSecs,
	).Result()
	if err != nil {
		r.logger.Error(fmt.Sprintf("Redis rate limiter unavailable: %v", err))
		return r.fallback(limit, now, window)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 3 {
		r.logger.Error(fmt.Sprintf("Unexpected redis rate limiter reply: %v", result))
		return r.fallback(limit, now, window)
	}

	allowed, ok1 := safeConvertToBool(values[0])
	remaining, ok2 := safeConvertToInt64(values[1])
	resetUnix, ok3 := safeConvertToInt64(values[2])
	if !ok1 || !ok2 || !ok3 {
		r.logger.Error(fmt.Sprintf("Unparseable redis rate limiter reply: %v", values))
		return r.fallback(limit, now, window)
	}

	return allowed, remaining, time.Unix(resetUnix, 0)
}

func (r *RedisRateLimiter) fallback(limit int64, now time.Time, window time.Duration) (bool, int64, time.Time) {
	if r.failOpen {
		return true, limit, now.Add(window)
	}
	return false, 0, now.Add(window)
}

func (r *RedisRateLimiter) Reset(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn(fmt.Sprintf("Unable to reset rate limit for key %s: %v", key, err))
	}
}

func (r *RedisRateLimiter) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisRateLimiter) key(k string) string {
	return r.namespace + k
}

func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}

func safeConvertToInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func safeConvertToBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	case []byte:
		b, err := strconv.ParseBool(string(t))
		return b, err == nil
	default:
		n, ok := safeConvertToInt64(v)
		return n == 1, ok
	}
}

// Package ratelimit provides the validation rate limiter backends (Redis, PostgreSQL,
// process memory) and the keyed token buckets used for per-IP throttling.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

// RedisRateLimiter implements a sliding-window limiter on a Redis sorted set per principal.
// Members are admitted attempts scored by their time in milliseconds.
type RedisRateLimiter struct {
	client    redis.UniversalClient
	clock     service.Clock
	keyPrefix string
	logger    logger.Logger
}

var _ service.RateLimiter = (*RedisRateLimiter)(nil)

// slidingWindowScript trims expired members, counts the rest and, when there is room,
// records the current attempt. It returns {limited, retry_after_ms, remaining}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
    local retry = window
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if oldest[2] then
        retry = tonumber(oldest[2]) + window - now
    end
    if retry < 0 then
        retry = 0
    end
    return {1, retry, 0}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {0, 0, limit - count - 1}
`)

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client redis.UniversalClient, keyPrefix string, clock service.Clock, log logger.Logger) *RedisRateLimiter {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if keyPrefix == "" {
		keyPrefix = constants.ServiceName
	}
	return &RedisRateLimiter{
		client:    client,
		clock:     clock,
		keyPrefix: keyPrefix,
		logger:    log.WithComponent("RedisRateLimiter"),
	}
}

// IsRateLimited runs the sliding-window script for userID.
func (rl *RedisRateLimiter) IsRateLimited(ctx context.Context, userID string, maxAttempts int, window time.Duration) (service.RateDecision, error) {
	now := rl.clock.Now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, rl.client, []string{rl.buildKey(userID)},
		now, window.Milliseconds(), maxAttempts, member).Int64Slice()
	if err != nil {
		return service.RateDecision{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(res) < 3 {
		return service.RateDecision{}, fmt.Errorf("redis sliding window: unexpected reply %v", res)
	}

	d := service.RateDecision{
		Limited:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Remaining:  int(res[2]),
	}
	if d.Limited {
		rl.logger.Debug(ctx, "principal over validation limit",
			logger.UserID(userID),
			logger.Duration("retry_after", d.RetryAfter),
		)
	}
	return d, nil
}

// Backend implements service.RateLimiter.
func (rl *RedisRateLimiter) Backend() constants.RateLimitBackend {
	return constants.RateLimitBackendRedis
}

// ResetLimit clears the window of a principal.
func (rl *RedisRateLimiter) ResetLimit(ctx context.Context, userID string) error {
	if err := rl.client.Del(ctx, rl.buildKey(userID)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func (rl *RedisRateLimiter) buildKey(userID string) string {
	return fmt.Sprintf("%s:ratelimit:validate-admin:%s", rl.keyPrefix, userID)
}

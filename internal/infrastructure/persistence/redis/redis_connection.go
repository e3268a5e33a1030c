// Package redis provides Redis connection management and the Redis-backed session store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/pkg/logger"
)

// RedisConnection manages Redis client lifecycle and health monitoring.
type RedisConnection struct {
	config *config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisConnection creates a client from cfg and verifies it with a ping.
func NewRedisConnection(ctx context.Context, cfg *config.RedisConfig, log logger.Logger) (*RedisConnection, error) {
	log = log.WithComponent("RedisConnection")
	opts := &redis.UniversalOptions{
		Addrs:        []string{cfg.Addr},
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	}

	log.Info(ctx, "Connecting to Redis",
		logger.String("addr", cfg.Addr),
		logger.Int("db", cfg.DB),
	)

	rc := &RedisConnection{config: cfg, client: redis.NewUniversalClient(opts), logger: log}
	if err := rc.Ping(ctx); err != nil {
		_ = rc.client.Close()
		return nil, err
	}

	log.Info(ctx, "Redis connection established successfully", logger.Int("pool_size", cfg.PoolSize))
	return rc, nil
}

// NewRedisConnectionFromClient wraps an existing client, e.g. one pointed at miniredis.
func NewRedisConnectionFromClient(client redis.UniversalClient, log logger.Logger) *RedisConnection {
	return &RedisConnection{config: &config.RedisConfig{}, client: client, logger: log.WithComponent("RedisConnection")}
}

// GetClient returns the underlying client.
func (rc *RedisConnection) GetClient() redis.UniversalClient {
	return rc.client
}

// Name implements service.HealthChecker.
func (rc *RedisConnection) Name() string {
	return "redis"
}

// Ping checks Redis connectivity.
func (rc *RedisConnection) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	if err := rc.client.Ping(pingCtx).Err(); err != nil {
		rc.logger.Error(ctx, "Redis ping failed", err)
		return fmt.Errorf("redis unreachable: %w", err)
	}
	if latency := time.Since(start); latency > 50*time.Millisecond {
		rc.logger.Warn(ctx, "High Redis latency detected", logger.Duration("latency", latency))
	}
	return nil
}

// Close closes the client.
func (rc *RedisConnection) Close() error {
	rc.logger.Info(context.Background(), "Closing Redis connection")
	return rc.client.Close()
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

// memoryConfig is a self-contained configuration with no external dependency.
func memoryConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: 8080, IPRequestsPerSecond: 5, IPBurst: 10},
		Database:  config.DatabaseConfig{Driver: "memory"},
		Keys:      config.KeysConfig{DefaultAlgorithm: string(constants.AlgorithmHS256), DefaultRotationFrequency: constants.DefaultRotationFrequency},
		RateLimit: config.RateLimitConfig{Backend: string(constants.RateLimitBackendMemory), MaxAttempts: 5, Window: 5 * time.Minute, FailOpen: true},
		Validator: config.ValidatorConfig{TierTimeout: time.Second, BootstrapAdmins: []string{"root"}},
		Scheduler: config.SchedulerConfig{Interval: time.Hour, TickTimeout: time.Second},
		Session:   config.SessionConfig{TTL: time.Hour, Issuer: "keyguard-test"},
		Audit:     config.AuditConfig{HMACSecret: "secret"},
	}
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, memoryConfig(), logger.NewNoopLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Backend)
	assert.NotNil(t, c.MemoryLimiter)
	assert.Empty(t, c.Checkers)

	created, err := c.Scheduler.EnsureBootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	token, _, err := c.Sessions.Issue(ctx, "root")
	require.NoError(t, err)
	session, stale, err := c.Sessions.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.False(t, stale)

	res, err := c.Validator.Validate(ctx, models.ValidationRequest{UserID: session.UserID})
	require.NoError(t, err)
	assert.True(t, res.IsAdmin, "bootstrap admin is granted at startup")

	ok, err := c.Validator.Authorize(ctx, models.ValidationRequest{UserID: "nobody"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_RedisBackendRequiresRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.RateLimit.Backend = string(constants.RateLimitBackendRedis)

	_, err := New(context.Background(), cfg, logger.NewNoopLogger())
	require.Error(t, err)
}

func TestNew_SQLite(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", SQLitePath: "file::memory:?cache=shared", AutoMigrate: true, MaxOpenConns: 1}

	c, err := New(context.Background(), cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.DB)
	assert.Len(t, c.Checkers, 1)

	ok, err := c.Validator.Authorize(context.Background(), models.ValidationRequest{UserID: "root"})
	require.NoError(t, err)
	assert.True(t, ok)
}

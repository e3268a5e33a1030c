package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyguard/internal/app"
	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

func newContainer(t *testing.T) *app.Container {
	t.Helper()
	cfg := &config.Config{
		Database:  config.DatabaseConfig{Driver: "memory"},
		Keys:      config.KeysConfig{DefaultAlgorithm: string(constants.AlgorithmHS256), DefaultRotationFrequency: constants.DefaultRotationFrequency},
		RateLimit: config.RateLimitConfig{Backend: string(constants.RateLimitBackendMemory), MaxAttempts: 5, Window: 5 * time.Minute},
		Scheduler: config.SchedulerConfig{Interval: time.Hour, TickTimeout: time.Second},
		Session:   config.SessionConfig{TTL: time.Hour, Issuer: "keyctl-test"},
		Audit:     config.AuditConfig{HMACSecret: "secret"},
	}
	c, err := app.New(context.Background(), cfg, logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func runCmd(t *testing.T, c *app.Container, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	build := func(context.Context, string) (*app.Container, error) { return c, nil }
	cmd := NewRootCmd(build, &out)
	cmd.SetArgs(append([]string{"--as", "ops"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeyctl_Lifecycle(t *testing.T) {
	c := newContainer(t)

	out, err := runCmd(t, c, "add", "primary", "--current")
	require.NoError(t, err)
	assert.Contains(t, out, "added key primary")

	out, err = runCmd(t, c, "rotate", "primary")
	require.NoError(t, err)
	assert.Contains(t, out, "material version 2")

	_, err = runCmd(t, c, "add", "next", "--rotation-days", "7")
	require.NoError(t, err)
	out, err = runCmd(t, c, "make-current", "next")
	require.NoError(t, err)
	assert.Contains(t, out, "key next is current")

	out, err = runCmd(t, c, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "primary")
	assert.Contains(t, out, "next")

	out, err = runCmd(t, c, "events", "--type", "rotated")
	require.NoError(t, err)
	assert.Contains(t, out, "ops")
	assert.Contains(t, out, "true")

	out, err = runCmd(t, c, "-o", "json", "events", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"eventType": "made-current"`)
}

func TestKeyctl_Errors(t *testing.T) {
	c := newContainer(t)

	_, err := runCmd(t, c, "rotate", "missing")
	assert.Error(t, err)

	_, err = runCmd(t, c, "add", "x", "--algorithm", "RS256")
	assert.Error(t, err)

	_, err = runCmd(t, c, "events", "--type", "deleted")
	assert.Error(t, err)

	_, err = runCmd(t, c, "rotate")
	assert.Error(t, err)
}

func TestKeyctl_GrantAdmin(t *testing.T) {
	c := newContainer(t)

	_, err := runCmd(t, c, "grant-admin", "alice")
	require.NoError(t, err)

	ok, err := c.Validator.Authorize(context.Background(), models.ValidationRequest{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyctl_ResetLimit(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.Limiter.IsRateLimited(ctx, "alice", 5, 5*time.Minute)
		require.NoError(t, err)
	}
	d, err := c.Limiter.IsRateLimited(ctx, "alice", 5, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, d.Limited)

	out, err := runCmd(t, c, "reset-limit", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "reset rate limit of alice")

	d, err = c.Limiter.IsRateLimited(ctx, "alice", 5, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Limited)
}

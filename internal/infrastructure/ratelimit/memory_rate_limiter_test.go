package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/internal/domain/service/mocks"
	"github.com/turtacn/keyguard/internal/infrastructure/ratelimit"
	"github.com/turtacn/keyguard/pkg/constants"
)

func TestMemoryRateLimiter_WindowBoundary(t *testing.T) {
	clock := mocks.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := ratelimit.NewMemoryRateLimiter(clock)
	ctx := context.Background()
	window := constants.ValidationWindow

	for i := 0; i < constants.MaxValidationAttempts; i++ {
		d, err := rl.IsRateLimited(ctx, "user-1", constants.MaxValidationAttempts, window)
		require.NoError(t, err)
		require.False(t, d.Limited)
	}

	clock.Advance(window - time.Millisecond)
	d, err := rl.IsRateLimited(ctx, "user-1", constants.MaxValidationAttempts, window)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, constants.MinRetryAfter, d.RetryAfter, "retry hint never rounds down to nothing")

	clock.Advance(time.Millisecond)
	d, err = rl.IsRateLimited(ctx, "user-1", constants.MaxValidationAttempts, window)
	require.NoError(t, err)
	assert.False(t, d.Limited)
	assert.Equal(t, constants.MaxValidationAttempts-1, d.Remaining)
}

func TestMemoryRateLimiter_Concurrent(t *testing.T) {
	rl := ratelimit.NewMemoryRateLimiter(mocks.NewFakeClock(time.Now()))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := rl.IsRateLimited(context.Background(), "user-1", 5, time.Minute)
			if !d.Limited {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, admitted)
}

func TestMemoryRateLimiter_Sweep(t *testing.T) {
	clock := mocks.NewFakeClock(time.Now())
	rl := ratelimit.NewMemoryRateLimiter(clock)

	_, _ = rl.IsRateLimited(context.Background(), "user-1", 5, time.Minute)
	_, _ = rl.IsRateLimited(context.Background(), "user-2", 5, time.Minute)
	clock.Advance(30 * time.Second)
	_, _ = rl.IsRateLimited(context.Background(), "user-2", 5, time.Minute)
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, rl.Sweep(time.Minute))
	assert.Equal(t, constants.RateLimitBackendMemory, rl.Backend())
}

type fakeReserver struct {
	decision service.RateDecision
	err      error
	calls    int
	resets   []string
}

func (f *fakeReserver) ResetRateLimit(_ context.Context, userID string) error {
	f.resets = append(f.resets, userID)
	return nil
}

func (f *fakeReserver) IsRateLimited(context.Context, string, int, time.Duration) (service.RateDecision, error) {
	f.calls++
	return f.decision, f.err
}

func TestMemoryRateLimiter_ResetLimit(t *testing.T) {
	rl := ratelimit.NewMemoryRateLimiter(mocks.NewFakeClock(time.Now()))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := rl.IsRateLimited(ctx, "user-1", 2, time.Minute)
		require.NoError(t, err)
	}
	d, _ := rl.IsRateLimited(ctx, "user-1", 2, time.Minute)
	require.True(t, d.Limited)

	require.NoError(t, rl.ResetLimit(ctx, "user-1"))
	require.NoError(t, rl.ResetLimit(ctx, "unknown"))

	d, err := rl.IsRateLimited(ctx, "user-1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Limited)
	assert.Equal(t, 1, d.Remaining)
}

func TestPostgresRateLimiter_Delegates(t *testing.T) {
	backend := &fakeReserver{decision: service.RateDecision{Limited: true, RetryAfter: time.Minute}}
	rl := ratelimit.NewPostgresRateLimiter(backend)

	d, err := rl.IsRateLimited(context.Background(), "user-1", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, constants.RateLimitBackendPostgres, rl.Backend())

	backend.err = errors.New("connection refused")
	_, err = rl.IsRateLimited(context.Background(), "user-1", 5, time.Minute)
	assert.Error(t, err)

	require.NoError(t, rl.ResetLimit(context.Background(), "user-1"))
	assert.Equal(t, []string{"user-1"}, backend.resets)
}

package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyguard/internal/application"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/internal/domain/service/mocks"
	"github.com/turtacn/keyguard/internal/infrastructure/persistence/memory"
	"github.com/turtacn/keyguard/internal/infrastructure/ratelimit"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

type validatorFixture struct {
	clock     *mocks.FakeClock
	limiter   *mocks.MockRateLimiter
	primary   *mocks.MockRoleTier
	secondary *mocks.MockRoleTier
	attempts  *memory.AttemptRepository
	validator *application.AdminValidator
}

func newValidatorFixture(t *testing.T, cfg application.ValidatorConfig) *validatorFixture {
	t.Helper()
	f := &validatorFixture{
		clock:     mocks.NewFakeClock(epoch),
		limiter:   new(mocks.MockRateLimiter),
		primary:   &mocks.MockRoleTier{TierName: constants.TierPrimary},
		secondary: &mocks.MockRoleTier{TierName: constants.TierSecondary},
		attempts:  memory.NewAttemptRepository(),
	}
	auditLog := application.NewAuditLogService(memory.NewKeyEventRepository(), f.attempts, nil, nil, f.clock, nil, logger.NewNoopLogger())
	f.validator = application.NewAdminValidator(f.limiter, []service.RoleTier{f.primary, f.secondary},
		auditLog, f.clock, nil, cfg, logger.NewNoopLogger())
	return f
}

func (f *validatorFixture) allow() {
	f.limiter.On("IsRateLimited", mock.Anything, mock.Anything, constants.MaxValidationAttempts, constants.ValidationWindow).
		Return(service.RateDecision{Remaining: 4}, nil)
}

func (f *validatorFixture) onlyAttempt(t *testing.T, userID string) *models.ValidationAttempt {
	t.Helper()
	attempts, err := f.attempts.ListByUser(context.Background(), userID, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1, "exactly one attempt per decision")
	return attempts[0]
}

func request(userID string) models.ValidationRequest {
	return models.ValidationRequest{UserID: userID, IP: "192.0.2.7", UserAgent: "admin-ui"}
}

func TestAdminValidator_PrimaryDecides(t *testing.T) {
	for _, isAdmin := range []bool{true, false} {
		f := newValidatorFixture(t, application.DefaultValidatorConfig())
		f.allow()
		f.primary.On("IsAdmin", mock.Anything, mock.Anything).Return(isAdmin, nil)

		result, err := f.validator.Validate(context.Background(), request("u1"))
		require.NoError(t, err)
		assert.Equal(t, isAdmin, result.IsAdmin)
		assert.Equal(t, "u1", result.UserID)
		assert.NotEmpty(t, result.ValidationID)
		assert.Equal(t, epoch, result.Timestamp)
		f.secondary.AssertNotCalled(t, "IsAdmin", mock.Anything, mock.Anything)

		attempt := f.onlyAttempt(t, "u1")
		assert.True(t, attempt.Success, "a decided lookup succeeded whatever the role")
		assert.Equal(t, constants.TierPrimary, attempt.Tier)
		assert.Equal(t, constants.AttemptReasonOK, attempt.Reason)
		assert.Equal(t, result.ValidationID, attempt.ValidationID)
		assert.Equal(t, "192.0.2.7", attempt.IPAddress)
	}
}

func TestAdminValidator_FallsBackToNextTier(t *testing.T) {
	f := newValidatorFixture(t, application.DefaultValidatorConfig())
	f.allow()
	f.primary.On("IsAdmin", mock.Anything, mock.Anything).Return(false, assert.AnError)
	f.secondary.On("IsAdmin", mock.Anything, mock.Anything).Return(true, nil)

	result, err := f.validator.Validate(context.Background(), request("u1"))
	require.NoError(t, err)
	assert.True(t, result.IsAdmin)
	assert.Equal(t, constants.TierSecondary, f.onlyAttempt(t, "u1").Tier)
}

func TestAdminValidator_AllTiersFail(t *testing.T) {
	f := newValidatorFixture(t, application.DefaultValidatorConfig())
	f.allow()
	f.primary.On("IsAdmin", mock.Anything, mock.Anything).Return(false, assert.AnError)
	f.secondary.On("IsAdmin", mock.Anything, mock.Anything).Return(false, assert.AnError)

	result, err := f.validator.Validate(context.Background(), request("u1"))
	assert.Nil(t, result)
	assert.True(t, errors.HasCode(err, errors.CodeInternal))

	attempt := f.onlyAttempt(t, "u1")
	assert.False(t, attempt.Success)
	assert.Equal(t, constants.AttemptReasonAllTiersFailed, attempt.Reason)
}

func TestAdminValidator_TierTimeoutFallsThrough(t *testing.T) {
	cfg := application.DefaultValidatorConfig()
	cfg.TierTimeout = 20 * time.Millisecond
	f := newValidatorFixture(t, cfg)
	f.allow()
	f.primary.On("IsAdmin", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(false, context.DeadlineExceeded)
	f.secondary.On("IsAdmin", mock.Anything, mock.Anything).Return(true, nil)

	result, err := f.validator.Validate(context.Background(), request("u1"))
	require.NoError(t, err)
	assert.True(t, result.IsAdmin)
}

func TestAdminValidator_RateLimited(t *testing.T) {
	f := newValidatorFixture(t, application.DefaultValidatorConfig())
	f.limiter.On("IsRateLimited", mock.Anything, "u1", mock.Anything, mock.Anything).
		Return(service.RateDecision{Limited: true, RetryAfter: 90 * time.Second}, nil)

	_, err := f.validator.Validate(context.Background(), request("u1"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTooManyRequests))
	retry, ok := errors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, retry)

	f.primary.AssertNotCalled(t, "IsAdmin", mock.Anything, mock.Anything)
	attempt := f.onlyAttempt(t, "u1")
	assert.False(t, attempt.Success)
	assert.Equal(t, constants.AttemptReasonRateLimited, attempt.Reason)
	assert.Empty(t, attempt.Tier)
}

func TestAdminValidator_RateLimitedAtWindowEdge(t *testing.T) {
	f := newValidatorFixture(t, application.DefaultValidatorConfig())
	f.limiter.On("IsRateLimited", mock.Anything, "u1", mock.Anything, mock.Anything).
		Return(service.RateDecision{Limited: true}, nil)

	_, err := f.validator.Validate(context.Background(), request("u1"))
	require.Error(t, err)
	retry, ok := errors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, constants.MinRetryAfter, retry)

	_, body := errors.ToErrorResponse(err)
	assert.Equal(t, 1, body.RetryAfter)
}

func TestAdminValidator_LimiterErrorPolicy(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		f := newValidatorFixture(t, application.DefaultValidatorConfig())
		f.limiter.On("IsRateLimited", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(service.RateDecision{}, assert.AnError)
		f.primary.On("IsAdmin", mock.Anything, mock.Anything).Return(true, nil)

		result, err := f.validator.Validate(context.Background(), request("u1"))
		require.NoError(t, err)
		assert.True(t, result.IsAdmin)
	})

	t.Run("fail closed", func(t *testing.T) {
		cfg := application.DefaultValidatorConfig()
		cfg.FailOpen = false
		f := newValidatorFixture(t, cfg)
		f.limiter.On("IsRateLimited", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(service.RateDecision{}, assert.AnError)

		_, err := f.validator.Validate(context.Background(), request("u1"))
		retry, ok := errors.RetryAfter(err)
		require.True(t, ok)
		assert.Equal(t, constants.ValidationWindow, retry)
		f.primary.AssertNotCalled(t, "IsAdmin", mock.Anything, mock.Anything)
	})
}

func TestAdminValidator_Unauthenticated(t *testing.T) {
	f := newValidatorFixture(t, application.DefaultValidatorConfig())

	_, err := f.validator.Validate(context.Background(), request("  "))
	assert.True(t, errors.Is(err, errors.ErrUnauthenticated))
	f.limiter.AssertNotCalled(t, "IsRateLimited", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.attempts.Len())
}

func TestAdminValidator_RecordsAttemptAfterCancel(t *testing.T) {
	f := newValidatorFixture(t, application.DefaultValidatorConfig())
	f.allow()
	ctx, cancel := context.WithCancel(context.Background())
	f.primary.On("IsAdmin", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(true, nil)

	_, err := f.validator.Validate(ctx, request("u1"))
	require.NoError(t, err)
	f.onlyAttempt(t, "u1")
}

// With a real limiter the sixth validation inside the window is rejected and the
// rejected attempt does not occupy a slot.
func TestAdminValidator_WithMemoryLimiter(t *testing.T) {
	clock := mocks.NewFakeClock(epoch)
	attempts := memory.NewAttemptRepository()
	auditLog := application.NewAuditLogService(memory.NewKeyEventRepository(), attempts, nil, nil, clock, nil, logger.NewNoopLogger())
	roles := memory.NewRoleRepository(map[string]string{"root": constants.AdminRole})
	v := application.NewAdminValidator(ratelimit.NewMemoryRateLimiter(clock),
		[]service.RoleTier{application.NewRepositoryTier(constants.TierPrimary, roles)},
		auditLog, clock, nil, application.DefaultValidatorConfig(), logger.NewNoopLogger())
	ctx := context.Background()

	for i := 0; i < constants.MaxValidationAttempts; i++ {
		result, err := v.Validate(ctx, request("root"))
		require.NoError(t, err)
		assert.True(t, result.IsAdmin)
		clock.Advance(time.Second)
	}
	_, err := v.Validate(ctx, request("root"))
	retry, ok := errors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, constants.ValidationWindow-5*time.Second, retry)

	clock.Set(epoch.Add(constants.ValidationWindow + time.Millisecond))
	_, err = v.Validate(ctx, request("root"))
	require.NoError(t, err)

	n, err := attempts.CountSince(ctx, "root", epoch.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestAdminValidator_ConcurrentCallersShareWindow(t *testing.T) {
	clock := mocks.NewFakeClock(epoch)
	roles := memory.NewRoleRepository(map[string]string{"root": constants.AdminRole})
	v := application.NewAdminValidator(ratelimit.NewMemoryRateLimiter(clock),
		[]service.RoleTier{application.NewRepositoryTier(constants.TierPrimary, roles)},
		nil, clock, nil, application.DefaultValidatorConfig(), logger.NewNoopLogger())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.Validate(context.Background(), request("root")); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, constants.MaxValidationAttempts, allowed)
}

func TestAdminValidator_AuthorizeRecordsWithoutBudget(t *testing.T) {
	limiter := new(mocks.MockRateLimiter)
	primary := &mocks.MockRoleTier{TierName: constants.TierPrimary}
	secondary := &mocks.MockRoleTier{TierName: constants.TierSecondary}
	auditLog := new(mocks.MockAuditLog)
	v := application.NewAdminValidator(limiter, []service.RoleTier{primary, secondary},
		auditLog, mocks.NewFakeClock(epoch), nil, application.DefaultValidatorConfig(), logger.NewNoopLogger())

	primary.On("IsAdmin", mock.Anything, mock.Anything).Return(false, assert.AnError).Twice()
	secondary.On("IsAdmin", mock.Anything, mock.Anything).Return(true, nil).Once()
	secondary.On("IsAdmin", mock.Anything, mock.Anything).Return(false, assert.AnError).Once()
	auditLog.On("RecordAttempt", mock.Anything, mock.MatchedBy(func(a *models.ValidationAttempt) bool {
		return a.UserID == "admin-1" && a.Success && a.Tier == constants.TierSecondary &&
			a.Reason == constants.AttemptReasonAuthorize && a.IPAddress == "192.0.2.7"
	})).Once()
	auditLog.On("RecordAttempt", mock.Anything, mock.MatchedBy(func(a *models.ValidationAttempt) bool {
		return a.UserID == "admin-1" && !a.Success && a.Reason == constants.AttemptReasonAuthorize
	})).Once()

	req := models.ValidationRequest{UserID: " admin-1 ", IP: "192.0.2.7", UserAgent: "admin-ui"}
	ok, err := v.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = v.Authorize(context.Background(), req)
	assert.True(t, errors.HasCode(err, errors.CodeInternal))

	_, err = v.Authorize(context.Background(), models.ValidationRequest{})
	assert.True(t, errors.HasCode(err, errors.CodeUnauthenticated))

	limiter.AssertNotCalled(t, "IsRateLimited", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	auditLog.AssertExpectations(t)
	auditLog.AssertNumberOfCalls(t, "RecordAttempt", 2)
}

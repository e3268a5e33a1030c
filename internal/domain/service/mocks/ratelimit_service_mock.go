package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
)

// MockRateLimiter is a mock implementation of RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) IsRateLimited(ctx context.Context, userID string, maxAttempts int, window time.Duration) (service.RateDecision, error) {
	args := m.Called(ctx, userID, maxAttempts, window)
	return args.Get(0).(service.RateDecision), args.Error(1)
}

func (m *MockRateLimiter) Backend() constants.RateLimitBackend {
	return constants.RateLimitBackendMemory
}

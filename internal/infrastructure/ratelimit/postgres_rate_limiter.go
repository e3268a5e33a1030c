package ratelimit

import (
	"context"
	"time"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
)

// reserver is the backend function that checks and reserves in one transaction.
type reserver interface {
	IsRateLimited(ctx context.Context, userID string, maxAttempts int, window time.Duration) (service.RateDecision, error)
	ResetRateLimit(ctx context.Context, userID string) error
}

// PostgresRateLimiter delegates to the is_rate_limited backend function.
type PostgresRateLimiter struct {
	backend reserver
}

var _ service.RateLimiter = (*PostgresRateLimiter)(nil)

func NewPostgresRateLimiter(backend reserver) *PostgresRateLimiter {
	return &PostgresRateLimiter{backend: backend}
}

func (rl *PostgresRateLimiter) IsRateLimited(ctx context.Context, userID string, maxAttempts int, window time.Duration) (service.RateDecision, error) {
	return rl.backend.IsRateLimited(ctx, userID, maxAttempts, window)
}

func (rl *PostgresRateLimiter) Backend() constants.RateLimitBackend {
	return constants.RateLimitBackendPostgres
}

// ResetLimit clears the reservations of a principal.
func (rl *PostgresRateLimiter) ResetLimit(ctx context.Context, userID string) error {
	return rl.backend.ResetRateLimit(ctx, userID)
}

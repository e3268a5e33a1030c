// Package rpc calls the PostgreSQL functions exposed by the persistence backend
// (is_admin, is_rate_limited) through the pgx database/sql driver.
package rpc

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/logger"
)

//go:embed functions.sql
var functionsSQL string

// Client invokes backend functions. Every call is bounded by the configured timeout
// in addition to the caller's context.
type Client struct {
	db      *sql.DB
	timeout time.Duration
	logger  logger.Logger
}

// Open connects to dsn with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string, timeout time.Duration, log logger.Logger) (*Client, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	c := New(db, timeout, log)
	if err := c.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an existing handle.
func New(db *sql.DB, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{db: db, timeout: timeout, logger: log.WithComponent("BackendRPC")}
}

// EnsureFunctions installs or replaces the backend functions.
func (c *Client) EnsureFunctions(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, functionsSQL); err != nil {
		return fmt.Errorf("install backend functions: %w", err)
	}
	c.logger.Info(ctx, "backend functions installed")
	return nil
}

// IsAdmin calls is_admin(user_id, ip_address, user_agent).
func (c *Client) IsAdmin(ctx context.Context, userID, ip, userAgent string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var isAdmin sql.NullBool
	err := c.db.QueryRowContext(ctx, "SELECT is_admin($1, $2, $3)", userID, ip, userAgent).Scan(&isAdmin)
	if err != nil {
		return false, fmt.Errorf("is_admin: %w", err)
	}
	return isAdmin.Valid && isAdmin.Bool, nil
}

// IsRateLimited calls is_rate_limited(user_id, max_attempts, window_ms), which checks the
// window and reserves a slot in one transaction.
func (c *Client) IsRateLimited(ctx context.Context, userID string, maxAttempts int, window time.Duration) (service.RateDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		limited      bool
		retryAfterMs int64
		remaining    int
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT limited, retry_after_ms, remaining FROM is_rate_limited($1, $2, $3)",
		userID, maxAttempts, window.Milliseconds(),
	).Scan(&limited, &retryAfterMs, &remaining)
	if err != nil {
		return service.RateDecision{}, fmt.Errorf("is_rate_limited: %w", err)
	}
	return service.RateDecision{
		Limited:    limited,
		RetryAfter: time.Duration(retryAfterMs) * time.Millisecond,
		Remaining:  remaining,
	}, nil
}

// ResetRateLimit drops the reservations held for userID.
func (c *Client) ResetRateLimit(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.db.ExecContext(ctx, "DELETE FROM rate_limit_reservations WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// Name implements service.HealthChecker.
func (c *Client) Name() string { return "backend" }

// Ping verifies the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (c *Client) Close() error {
	return c.db.Close()
}

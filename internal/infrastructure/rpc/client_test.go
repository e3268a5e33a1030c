package rpc

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyguard/pkg/logger"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, time.Second, logger.NewNoopLogger()), mock
}

func TestClient_IsAdmin(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT is_admin($1, $2, $3)")).
		WithArgs("user-1", "10.0.0.1", "curl/8").
		WillReturnRows(sqlmock.NewRows([]string{"is_admin"}).AddRow(true))

	ok, err := c.IsAdmin(context.Background(), "user-1", "10.0.0.1", "curl/8")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_IsAdmin_NullIsFalse(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery("SELECT is_admin").
		WillReturnRows(sqlmock.NewRows([]string{"is_admin"}).AddRow(nil))

	ok, err := c.IsAdmin(context.Background(), "user-1", "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_IsAdmin_Error(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery("SELECT is_admin").WillReturnError(errors.New("permission denied"))

	_, err := c.IsAdmin(context.Background(), "user-1", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is_admin")
}

func TestClient_IsRateLimited(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT limited, retry_after_ms, remaining FROM is_rate_limited($1, $2, $3)")).
		WithArgs("user-1", 5, int64(300000)).
		WillReturnRows(sqlmock.NewRows([]string{"limited", "retry_after_ms", "remaining"}).AddRow(true, int64(1500), 0))

	d, err := c.IsRateLimited(context.Background(), "user-1", 5, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, 1500*time.Millisecond, d.RetryAfter)
	assert.Equal(t, 0, d.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_ResetRateLimit(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rate_limit_reservations WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, c.ResetRateLimit(context.Background(), "user-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_EnsureFunctions(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec("CREATE OR REPLACE FUNCTION is_admin").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.EnsureFunctions(context.Background()))
	assert.Contains(t, functionsSQL, "pg_advisory_xact_lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	c := New(db, time.Second, logger.NewNoopLogger())

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, c.Ping(context.Background()))
	assert.Equal(t, "backend", c.Name())
}

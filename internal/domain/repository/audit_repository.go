package repository

import (
	"context"
	"time"

	"github.com/turtacn/keyguard/internal/domain/models"
)

// KeyEventRepository is the append-only store of key lifecycle events.
// KeyEventRepository 是密钥生命周期事件的仅追加存储。
type KeyEventRepository interface {
	// Append inserts an event. Existing events are never updated.
	Append(ctx context.Context, event *models.KeyEvent) error
	// List returns at most q.Limit events, newest first, optionally filtered by type.
	List(ctx context.Context, q models.EventQuery) ([]*models.KeyEvent, error)
}

// AttemptRepository is the append-only store of admin validation attempts.
// AttemptRepository 是管理员验证尝试的仅追加存储。
type AttemptRepository interface {
	Append(ctx context.Context, attempt *models.ValidationAttempt) error
	// CountSince counts the principal's attempts with timestamp after since.
	CountSince(ctx context.Context, userID string, since time.Time) (int64, error)
	// ListByUser returns the principal's most recent attempts, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.ValidationAttempt, error)
}

// RoleRepository resolves a principal's role. Implementations are read-only.
// RoleRepository 解析主体的角色。实现均为只读。
type RoleRepository interface {
	// RoleOf returns the role and true, or "" and false when the principal has no role row.
	RoleOf(ctx context.Context, userID string) (string, bool, error)
}

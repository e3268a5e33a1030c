package repository

import (
	"context"

	"github.com/turtacn/keyguard/internal/domain/models"
)

// KeyRepository defines the interface for signing key metadata persistence.
// Keys are never hard-deleted.
// KeyRepository 定义了签名密钥元数据持久化的接口。密钥永不物理删除。
type KeyRepository interface {
	// Create inserts a new key. It returns errors.ErrDuplicateKeyID when the id exists.
	// Create 插入新密钥。若 id 已存在则返回 errors.ErrDuplicateKeyID。
	Create(ctx context.Context, key *models.SigningKey) error

	// FindByID returns the key or errors.ErrUnknownKey.
	// FindByID 返回密钥或 errors.ErrUnknownKey。
	FindByID(ctx context.Context, keyID string) (*models.SigningKey, error)

	// FindCurrent returns the current key or errors.ErrNoCurrentKey.
	// FindCurrent 返回当前密钥或 errors.ErrNoCurrentKey。
	FindCurrent(ctx context.Context) (*models.SigningKey, error)

	// List returns every key ordered by creation time.
	// List 返回按创建时间排序的所有密钥。
	List(ctx context.Context) ([]*models.SigningKey, error)

	// Count returns the number of keys.
	Count(ctx context.Context) (int64, error)

	// Update writes the mutable fields of key if its stored version still equals key.Version.
	// On success key.Version is incremented; on mismatch errors.ErrVersionConflict is returned.
	// Update 在存储版本仍等于 key.Version 时写入可变字段。
	// 成功时 key.Version 递增；版本不匹配时返回 errors.ErrVersionConflict。
	Update(ctx context.Context, key *models.SigningKey) error

	// SwapCurrent promotes one key and demotes another in a single transaction, both guarded
	// by their row versions. demote may be nil when no key is current.
	// SwapCurrent 在单个事务中提升一个密钥并降级另一个密钥，两者均由行版本保护。
	SwapCurrent(ctx context.Context, promote, demote *models.SigningKey) error
}

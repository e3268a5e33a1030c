package postgres

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/repository"
	"github.com/turtacn/keyguard/pkg/errors"
)

// KeyRepository is a GORM implementation of the KeyRepository interface.
// Updates are compare-and-swap on the version column.
type KeyRepository struct {
	db *gorm.DB
}

var _ repository.KeyRepository = (*KeyRepository)(nil)

// NewKeyRepository creates a new KeyRepository.
func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Create inserts a key.
func (r *KeyRepository) Create(ctx context.Context, key *models.SigningKey) error {
	err := r.db.WithContext(ctx).Create(key).Error
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.DuplicateKeyID(key.KeyID)
	}
	return err
}

// FindByID retrieves a key by its id.
func (r *KeyRepository) FindByID(ctx context.Context, keyID string) (*models.SigningKey, error) {
	var key models.SigningKey
	err := r.db.WithContext(ctx).Where("key_id = ?", keyID).First(&key).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.UnknownKey(keyID)
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// FindCurrent retrieves the current key.
func (r *KeyRepository) FindCurrent(ctx context.Context) (*models.SigningKey, error) {
	var key models.SigningKey
	err := r.db.WithContext(ctx).Where("is_current = ?", true).First(&key).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrNoCurrentKey
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// List retrieves every key, oldest first.
func (r *KeyRepository) List(ctx context.Context) ([]*models.SigningKey, error) {
	var keys []*models.SigningKey
	err := r.db.WithContext(ctx).Order("created_at ASC").Order("key_id ASC").Find(&keys).Error
	return keys, err
}

// Count returns the number of keys.
func (r *KeyRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.SigningKey{}).Count(&n).Error
	return n, err
}

// Update writes the mutable columns when the stored version matches.
func (r *KeyRepository) Update(ctx context.Context, key *models.SigningKey) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return casUpdate(tx, key, key.IsCurrent)
	})
}

// SwapCurrent demotes and promotes inside one transaction.
func (r *KeyRepository) SwapCurrent(ctx context.Context, promote, demote *models.SigningKey) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if demote != nil {
			if err := casUpdate(tx, demote, false); err != nil {
				return err
			}
		}
		return casUpdate(tx, promote, true)
	})
	if err != nil {
		// The transaction rolled back; restore the in-memory versions.
		if demote != nil && !demote.IsCurrent {
			demote.IsCurrent = true
			demote.Version--
		}
		return err
	}
	return nil
}

// casUpdate writes key with the given current flag if its version is unchanged and
// bumps key.Version on success.
func casUpdate(tx *gorm.DB, key *models.SigningKey, current bool) error {
	res := tx.Model(&models.SigningKey{}).
		Where("key_id = ? AND version = ?", key.KeyID, key.Version).
		Updates(map[string]interface{}{
			"algorithm":          key.Algorithm,
			"rotation_frequency": key.RotationFrequency,
			"is_current":         current,
			"last_rotated_at":    key.LastRotatedAt,
			"material_version":   key.MaterialVersion,
			"version":            key.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := tx.Model(&models.SigningKey{}).Where("key_id = ?", key.KeyID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return errors.UnknownKey(key.KeyID)
		}
		return errors.VersionConflict(key.KeyID)
	}
	key.IsCurrent = current
	key.Version++
	return nil
}

package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/repository"
)

// KeyEventRepository stores key events. It only ever inserts and selects.
type KeyEventRepository struct {
	db *gorm.DB
}

var _ repository.KeyEventRepository = (*KeyEventRepository)(nil)

// NewKeyEventRepository creates a new KeyEventRepository.
func NewKeyEventRepository(db *gorm.DB) *KeyEventRepository {
	return &KeyEventRepository{db: db}
}

// Append inserts an event.
func (r *KeyEventRepository) Append(ctx context.Context, event *models.KeyEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// List returns events newest first. ULID ids break ties between equal timestamps.
func (r *KeyEventRepository) List(ctx context.Context, q models.EventQuery) ([]*models.KeyEvent, error) {
	q = q.Normalize()
	tx := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(q.Limit)
	if q.EventType != "" {
		tx = tx.Where("event_type = ?", q.EventType)
	}
	var events []*models.KeyEvent
	err := tx.Find(&events).Error
	return events, err
}

// AttemptRepository stores validation attempts. It only ever inserts and selects.
type AttemptRepository struct {
	db *gorm.DB
}

var _ repository.AttemptRepository = (*AttemptRepository)(nil)

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Append inserts an attempt.
func (r *AttemptRepository) Append(ctx context.Context, attempt *models.ValidationAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// CountSince counts the principal's attempts after since.
func (r *AttemptRepository) CountSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ValidationAttempt{}).
		Where("user_id = ? AND timestamp > ?", userID, since).
		Count(&n).Error
	return n, err
}

// ListByUser returns the principal's newest attempts first.
func (r *AttemptRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.ValidationAttempt, error) {
	var attempts []*models.ValidationAttempt
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

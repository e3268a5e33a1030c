package models

import (
	"time"

	"github.com/turtacn/keyguard/pkg/constants"
)

// KeyEvent is an immutable record of a key lifecycle change.
// KeyEvent 是密钥生命周期变更的不可变记录。
type KeyEvent struct {
	ID          string                 `gorm:"primaryKey;type:varchar(32)" json:"id"`
	EventType   constants.KeyEventType `gorm:"type:varchar(32);index;not null" json:"eventType"`
	KeyID       string                 `gorm:"type:varchar(128);index;not null" json:"keyId"`
	PerformedBy *string                `gorm:"type:varchar(128)" json:"performedBy"`
	ClientIP    string                 `gorm:"type:varchar(64)" json:"clientIp"`
	UserAgent   string                 `gorm:"type:text" json:"userAgent"`
	CreatedAt   time.Time              `gorm:"index;not null" json:"createdAt"`
	// Signature is an HMAC over the other fields; empty when signing is disabled.
	Signature string `gorm:"type:varchar(128)" json:"-"`
}

// TableName binds the model to the jwt_key_events table.
func (KeyEvent) TableName() string {
	return "jwt_key_events"
}

// ValidationAttempt records one admin validation decision.
// ValidationAttempt 记录一次管理员验证决策。
type ValidationAttempt struct {
	ID           string                   `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ValidationID string                   `gorm:"type:varchar(36);index" json:"validationId"`
	UserID       string                   `gorm:"type:varchar(128);index:idx_attempt_user_ts;not null" json:"userId"`
	Timestamp    time.Time                `gorm:"index:idx_attempt_user_ts;not null" json:"timestamp"`
	Success      bool                     `gorm:"not null" json:"success"`
	IPAddress    string                   `gorm:"type:varchar(64)" json:"ipAddress"`
	UserAgent    string                   `gorm:"type:text" json:"userAgent"`
	Tier         constants.ValidationTier `gorm:"type:varchar(16)" json:"tier,omitempty"`
	Reason       constants.AttemptReason  `gorm:"type:varchar(32)" json:"reason"`
}

// TableName binds the model to the admin_validation_attempts table.
func (ValidationAttempt) TableName() string {
	return "admin_validation_attempts"
}

// EventQuery is a bounded page request over key events.
type EventQuery struct {
	Limit     int
	EventType constants.KeyEventType
}

// Normalize clamps the limit into [1, MaxEventPageSize].
func (q EventQuery) Normalize() EventQuery {
	if q.Limit <= 0 {
		q.Limit = constants.DefaultEventPageSize
	}
	if q.Limit > constants.MaxEventPageSize {
		q.Limit = constants.MaxEventPageSize
	}
	return q
}

package models

import (
	"time"
)

// ClientInfo carries caller metadata for audit records.
type ClientInfo struct {
	// PerformedBy is the principal id, nil for system-triggered actions.
	PerformedBy *string
	IP          string
	UserAgent   string
	// Session is the caller's session, nil when the call did not come through a session.
	Session *Session
}

// SystemClient is the ClientInfo used by background jobs.
func SystemClient() ClientInfo {
	return ClientInfo{UserAgent: "keyguard-scheduler"}
}

// Principal returns the performing principal id or an empty string.
func (c ClientInfo) Principal() string {
	if c.PerformedBy == nil {
		return ""
	}
	return *c.PerformedBy
}

// AdminRoleRecord maps a user to a role. It is read, never written, by this service.
type AdminRoleRecord struct {
	UserID string `gorm:"primaryKey;column:user_id;type:varchar(128)"`
	Role   string `gorm:"type:varchar(32);not null"`
}

// TableName binds the model to the user_roles table.
func (AdminRoleRecord) TableName() string {
	return "user_roles"
}

// ValidationRequest is the input of an admin validation. UserID must come from
// an authenticated session, never from a request body.
type ValidationRequest struct {
	UserID    string
	IP        string
	UserAgent string
}

// ValidationResult is the answer returned to the caller.
type ValidationResult struct {
	IsAdmin      bool      `json:"isAdmin"`
	UserID       string    `json:"userId"`
	Timestamp    time.Time `json:"timestamp"`
	ValidationID string    `json:"validationId"`
}

// Session holds the claims of an authenticated session token.
type Session struct {
	SessionID       string    `json:"sid"`
	UserID          string    `json:"sub"`
	KeyID           string    `json:"kid"`
	MaterialVersion int       `json:"kver"`
	Generation      int64     `json:"gen"`
	IssuedAt        time.Time `json:"iat"`
	ExpiresAt       time.Time `json:"exp"`
}

// Package dto holds the request and response bodies of the HTTP boundary.
package dto

import (
	"time"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
)

// ValidateAdminRequest is the body of POST /api/auth/validate-admin.
// The token is optional; identity always comes from the session.
type ValidateAdminRequest struct {
	Token *string `json:"token"`
}

// AddKeyRequest is the body of POST /api/admin/keys.
type AddKeyRequest struct {
	KeyID     string `json:"keyId" binding:"required,max=128"`
	Algorithm string `json:"algorithm" binding:"omitempty,oneof=HS256 HS384 HS512"`
	// RotationFrequencyDays defaults to 30 when zero.
	RotationFrequencyDays int  `json:"rotationFrequencyDays" binding:"gte=0,lte=3650"`
	MakeCurrent           bool `json:"makeCurrent"`
}

// Spec converts the request into the key store input.
func (r AddKeyRequest) Spec() models.NewKeySpec {
	return models.NewKeySpec{
		KeyID:             r.KeyID,
		Algorithm:         constants.KeyAlgorithm(r.Algorithm),
		RotationFrequency: time.Duration(r.RotationFrequencyDays) * constants.Day,
		MakeCurrent:       r.MakeCurrent,
	}
}

// KeyView is the operator-facing view of a key. Material never leaves the service.
type KeyView struct {
	KeyID                 string    `json:"keyId"`
	Algorithm             string    `json:"algorithm"`
	IsCurrent             bool      `json:"isCurrent"`
	CreatedAt             time.Time `json:"createdAt"`
	LastRotatedAt         time.Time `json:"lastRotatedAt"`
	RotationFrequencyDays int       `json:"rotationFrequencyDays"`
	MaterialVersion       int       `json:"materialVersion"`
}

// NewKeyView builds the view of k.
func NewKeyView(k *models.SigningKey) KeyView {
	return KeyView{
		KeyID:                 k.KeyID,
		Algorithm:             string(k.Algorithm),
		IsCurrent:             k.IsCurrent,
		CreatedAt:             k.CreatedAt,
		LastRotatedAt:         k.LastRotatedAt,
		RotationFrequencyDays: int(k.RotationFrequency / constants.Day),
		MaterialVersion:       k.MaterialVersion,
	}
}

// KeyChangeResponse answers add, rotate and make-current.
type KeyChangeResponse struct {
	KeyID            string `json:"keyId"`
	Rotated          bool   `json:"rotated,omitempty"`
	SessionRefreshed bool   `json:"sessionRefreshed"`
	// RefreshError is set when the key changed but the caller's session could not be re-issued.
	RefreshError string `json:"refreshError,omitempty"`
}

// KeyEventView is the wire form of a key event.
type KeyEventView struct {
	ID          string    `json:"id"`
	EventType   string    `json:"eventType"`
	KeyID       string    `json:"keyId"`
	PerformedBy *string   `json:"performedBy"`
	ClientIP    string    `json:"clientIp,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Verified    bool      `json:"verified"`
}

// KeyEventsResponse is the body of GET /api/admin/key-events.
type KeyEventsResponse struct {
	Events []KeyEventView `json:"events"`
	Limit  int            `json:"limit"`
}

package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
)

// canonicalEvent is the signed view of a key event. Field order is fixed by the struct.
type canonicalEvent struct {
	ID          string `json:"id"`
	EventType   string `json:"event_type"`
	KeyID       string `json:"key_id"`
	PerformedBy string `json:"performed_by"`
	ClientIP    string `json:"client_ip"`
	UserAgent   string `json:"user_agent"`
	CreatedAt   string `json:"created_at"`
}

// HMACSigner signs key events with HMAC-SHA256 so tampering with stored rows is detectable.
type HMACSigner struct {
	secret []byte
}

var _ service.EventSigner = (*HMACSigner)(nil)

// NewHMACSigner creates a signer. An empty secret disables signing.
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

// Sign calculates the base64 HMAC-SHA256 signature of the event.
func (s *HMACSigner) Sign(event *models.KeyEvent) string {
	if len(s.secret) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.mac(event))
}

// Verify reports whether the stored signature matches the event contents.
func (s *HMACSigner) Verify(event *models.KeyEvent) bool {
	if len(s.secret) == 0 {
		return event.Signature == ""
	}
	got, err := base64.StdEncoding.DecodeString(event.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(event))
}

func (s *HMACSigner) mac(event *models.KeyEvent) []byte {
	c := canonicalEvent{
		ID:        event.ID,
		EventType: string(event.EventType),
		KeyID:     event.KeyID,
		ClientIP:  event.ClientIP,
		UserAgent: event.UserAgent,
		CreatedAt: event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if event.PerformedBy != nil {
		c.PerformedBy = *event.PerformedBy
	}
	// Marshalling a struct of strings cannot fail.
	payload, _ := json.Marshal(c)

	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return h.Sum(nil)
}

package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
)

func sampleEvent() *models.KeyEvent {
	by := "ops"
	return &models.KeyEvent{
		ID:          "01HZX3J5K6M7N8P9Q0R1S2T3V4",
		EventType:   constants.KeyEventRotated,
		KeyID:       "primary-20250101",
		PerformedBy: &by,
		ClientIP:    "10.0.0.1",
		UserAgent:   "keyctl",
		CreatedAt:   time.Date(2025, 2, 1, 0, 0, 0, 123456000, time.UTC),
	}
}

func TestHMACSigner_SignVerify(t *testing.T) {
	s := NewHMACSigner("secret")
	e := sampleEvent()
	e.Signature = s.Sign(e)

	assert.NotEmpty(t, e.Signature)
	assert.True(t, s.Verify(e))
	assert.False(t, NewHMACSigner("other").Verify(e))

	// Same instant in another zone signs identically.
	moved := *e
	moved.CreatedAt = e.CreatedAt.In(time.FixedZone("CST", 8*3600))
	assert.True(t, s.Verify(&moved))
}

func TestHMACSigner_DetectsTampering(t *testing.T) {
	s := NewHMACSigner("secret")
	tests := []struct {
		name   string
		mutate func(e *models.KeyEvent)
	}{
		{"event type", func(e *models.KeyEvent) { e.EventType = constants.KeyEventCreated }},
		{"key id", func(e *models.KeyEvent) { e.KeyID = "other" }},
		{"performer removed", func(e *models.KeyEvent) { e.PerformedBy = nil }},
		{"timestamp", func(e *models.KeyEvent) { e.CreatedAt = e.CreatedAt.Add(time.Microsecond) }},
		{"signature garbage", func(e *models.KeyEvent) { e.Signature = "%%%" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := sampleEvent()
			e.Signature = s.Sign(e)
			tt.mutate(e)
			assert.False(t, s.Verify(e))
		})
	}
}

func TestHMACSigner_Disabled(t *testing.T) {
	s := NewHMACSigner("")
	e := sampleEvent()

	assert.Empty(t, s.Sign(e))
	assert.True(t, s.Verify(e))
	e.Signature = "forged"
	assert.False(t, s.Verify(e))
}

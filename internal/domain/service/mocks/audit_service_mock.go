package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
)

// MockAuditLog is a mock implementation of AuditLog
type MockAuditLog struct {
	mock.Mock
}

func (m *MockAuditLog) RecordKeyEvent(ctx context.Context, eventType constants.KeyEventType, keyID string, client models.ClientInfo) {
	m.Called(ctx, eventType, keyID, client)
}

func (m *MockAuditLog) RecordAttempt(ctx context.Context, attempt *models.ValidationAttempt) {
	m.Called(ctx, attempt)
}

func (m *MockAuditLog) Query(ctx context.Context, limit int, eventType constants.KeyEventType) ([]*models.KeyEvent, error) {
	args := m.Called(ctx, limit, eventType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.KeyEvent), args.Error(1)
}

func (m *MockAuditLog) Attempts(ctx context.Context, userID string, limit int) ([]*models.ValidationAttempt, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ValidationAttempt), args.Error(1)
}

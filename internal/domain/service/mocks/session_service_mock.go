package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
)

// MockSessionRefresher is a mock implementation of SessionRefresher
type MockSessionRefresher struct {
	mock.Mock
}

func (m *MockSessionRefresher) RefreshCurrentSession(ctx context.Context, session *models.Session) (string, error) {
	args := m.Called(ctx, session)
	return args.String(0), args.Error(1)
}

func (m *MockSessionRefresher) RefreshAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockRoleTier is a mock implementation of RoleTier
type MockRoleTier struct {
	mock.Mock
	TierName constants.ValidationTier
}

func (m *MockRoleTier) Name() constants.ValidationTier {
	return m.TierName
}

func (m *MockRoleTier) IsAdmin(ctx context.Context, req models.ValidationRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

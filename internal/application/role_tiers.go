package application

import (
	"context"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/repository"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
)

// RepositoryTier answers the admin question from a role repository.
// A missing role row is a definitive "not admin"; only lookup errors defer to the next tier.
type RepositoryTier struct {
	name  constants.ValidationTier
	roles repository.RoleRepository
}

var _ service.RoleTier = (*RepositoryTier)(nil)

// NewRepositoryTier names a role repository as a validation tier.
func NewRepositoryTier(name constants.ValidationTier, roles repository.RoleRepository) *RepositoryTier {
	return &RepositoryTier{name: name, roles: roles}
}

func (t *RepositoryTier) Name() constants.ValidationTier { return t.name }

func (t *RepositoryTier) IsAdmin(ctx context.Context, req models.ValidationRequest) (bool, error) {
	role, found, err := t.roles.RoleOf(ctx, req.UserID)
	if err != nil {
		return false, err
	}
	return found && role == constants.AdminRole, nil
}

// AdminChecker is a backend that answers the admin question directly.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID, ip, userAgent string) (bool, error)
}

// CheckerTier adapts an AdminChecker (the is_admin backend function) to a validation tier.
type CheckerTier struct {
	name    constants.ValidationTier
	checker AdminChecker
}

var _ service.RoleTier = (*CheckerTier)(nil)

func NewCheckerTier(name constants.ValidationTier, checker AdminChecker) *CheckerTier {
	return &CheckerTier{name: name, checker: checker}
}

func (t *CheckerTier) Name() constants.ValidationTier { return t.name }

func (t *CheckerTier) IsAdmin(ctx context.Context, req models.ValidationRequest) (bool, error) {
	return t.checker.IsAdmin(ctx, req.UserID, req.IP, req.UserAgent)
}

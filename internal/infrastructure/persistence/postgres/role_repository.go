package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/repository"
)

// PrivilegedRoleRepository reads user_roles with the service's own connection, which
// bypasses row-level security.
type PrivilegedRoleRepository struct {
	db *gorm.DB
}

var _ repository.RoleRepository = (*PrivilegedRoleRepository)(nil)

// NewPrivilegedRoleRepository creates a new PrivilegedRoleRepository.
func NewPrivilegedRoleRepository(db *gorm.DB) *PrivilegedRoleRepository {
	return &PrivilegedRoleRepository{db: db}
}

// RoleOf returns the principal's role.
func (r *PrivilegedRoleRepository) RoleOf(ctx context.Context, userID string) (string, bool, error) {
	return findRole(r.db.WithContext(ctx), userID)
}

// SetRole assigns role to userID, replacing any existing row.
func (r *PrivilegedRoleRepository) SetRole(ctx context.Context, userID, role string) error {
	rec := models.AdminRoleRecord{UserID: userID, Role: role}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&rec).Error
}

// SessionRoleRepository reads user_roles as a restricted database role with the caller's
// identity published to row-level security policies through request.jwt.claims.
// On databases without roles (SQLite) it falls back to a plain read.
type SessionRoleRepository struct {
	db   *gorm.DB
	role string
}

var _ repository.RoleRepository = (*SessionRoleRepository)(nil)

// NewSessionRoleRepository creates a repository that switches to role for every lookup.
func NewSessionRoleRepository(db *gorm.DB, role string) *SessionRoleRepository {
	return &SessionRoleRepository{db: db, role: role}
}

// RoleOf returns the principal's role as seen under the restricted role.
func (r *SessionRoleRepository) RoleOf(ctx context.Context, userID string) (string, bool, error) {
	if r.db.Dialector.Name() != "postgres" || r.role == "" {
		return findRole(r.db.WithContext(ctx), userID)
	}

	claims, err := json.Marshal(map[string]string{"sub": userID, "role": r.role})
	if err != nil {
		return "", false, err
	}

	var (
		role  string
		found bool
	)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SET LOCAL ROLE " + pgx.Identifier{r.role}.Sanitize()).Error; err != nil {
			return fmt.Errorf("switch to session role: %w", err)
		}
		if err := tx.Exec("SELECT set_config('request.jwt.claims', ?, true)", string(claims)).Error; err != nil {
			return fmt.Errorf("publish session claims: %w", err)
		}
		var ferr error
		role, found, ferr = findRole(tx, userID)
		return ferr
	})
	return role, found, err
}

func findRole(db *gorm.DB, userID string) (string, bool, error) {
	var rec models.AdminRoleRecord
	err := db.Where("user_id = ?", userID).First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.Role, true, nil
}

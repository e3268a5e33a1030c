package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/keyguard/internal/application/dto"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// RoleAuthorizer answers whether a principal holds the admin role.
type RoleAuthorizer interface {
	Authorize(ctx context.Context, req models.ValidationRequest) (bool, error)
}

// RequireAdmin checks the session principal's role and rejects non-admins with 403.
// It must run after SessionAuth.
func RequireAdmin(authorizer RoleAuthorizer, log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("AdminGate")
	return func(c *gin.Context) {
		session, ok := CurrentSession(c)
		if !ok {
			dto.SendError(c, errors.Unauthenticated("missing session"))
			return
		}

		isAdmin, err := authorizer.Authorize(c.Request.Context(), models.ValidationRequest{
			UserID:    session.UserID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if err != nil {
			log.Error(c.Request.Context(), "admin role lookup failed", err, logger.UserID(session.UserID))
			dto.SendError(c, err)
			return
		}
		if !isAdmin {
			log.Warn(c.Request.Context(), "non-admin denied", logger.UserID(session.UserID),
				logger.String("path", c.FullPath()))
			dto.SendError(c, errors.Forbidden("admin role required"))
			return
		}
		c.Next()
	}
}

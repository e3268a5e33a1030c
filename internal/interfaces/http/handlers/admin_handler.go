// Package handlers holds the gin handlers of the admin API.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/keyguard/internal/application/dto"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/interfaces/http/middleware"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// AdminValidator answers the admin question for a principal.
type AdminValidator interface {
	Validate(ctx context.Context, req models.ValidationRequest) (*models.ValidationResult, error)
}

// AdminHandler serves POST /api/auth/validate-admin.
type AdminHandler struct {
	validator AdminValidator
	sessions  middleware.SessionAuthenticator
	cookie    middleware.CookieConfig
	log       logger.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(validator AdminValidator, sessions middleware.SessionAuthenticator, cookie middleware.CookieConfig, log logger.Logger) *AdminHandler {
	return &AdminHandler{validator: validator, sessions: sessions, cookie: cookie, log: log.WithComponent("AdminHandler")}
}

// ValidateAdmin answers whether the session principal holds the admin role.
// Identity comes from the session set by SessionAuth. The body token is only
// consulted when the request carries no session header or cookie.
// ValidateAdmin 判断会话主体是否为管理员。身份取自会话；仅当请求没有会话头或 Cookie 时才使用请求体中的令牌。
func (h *AdminHandler) ValidateAdmin(c *gin.Context) {
	var req dto.ValidateAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		dto.SendError(c, errors.InvalidRequest("request body must be a JSON object"))
		return
	}

	session, ok := middleware.CurrentSession(c)
	if !ok && req.Token != nil && *req.Token != "" {
		s, stale, err := h.sessions.Authenticate(c.Request.Context(), *req.Token)
		if err != nil {
			dto.SendError(c, err)
			return
		}
		if stale {
			if fresh, err := h.sessions.RefreshCurrentSession(c.Request.Context(), s); err == nil {
				dto.SetSessionToken(c, fresh, h.cookie.MaxAgeSeconds, h.cookie.Secure)
			}
		}
		session, ok = s, true
		middleware.SetSession(c, s)
	}
	if !ok {
		dto.SendError(c, errors.Unauthenticated("missing session"))
		return
	}

	result, err := h.validator.Validate(c.Request.Context(), models.ValidationRequest{
		UserID:    session.UserID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.ShouldLogError(err) {
			h.log.Error(c.Request.Context(), "admin validation failed", err, logger.UserID(session.UserID))
		}
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, result)
}

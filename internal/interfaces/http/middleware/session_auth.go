// Package middleware holds the gin middleware of the HTTP boundary.
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/keyguard/internal/application/dto"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// SessionAuthenticator verifies and re-issues session tokens.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, bool, error)
	RefreshCurrentSession(ctx context.Context, session *models.Session) (string, error)
}

// CookieConfig controls the session cookie written on re-issue.
type CookieConfig struct {
	MaxAgeSeconds int
	Secure        bool
}

// extractToken reads the session token from the Authorization header or the session cookie.
func extractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := c.Cookie(constants.SessionCookieName); err == nil {
		return cookie
	}
	return ""
}

// SessionAuth authenticates the caller's session. A stale session (signed before the
// current key changed) is re-issued and the new token returned in X-Session-Token.
// When required is false a missing token passes through without a session.
// SessionAuth 认证调用方会话。过期会话（在当前密钥变更前签发）会被重新签发，
// 新令牌通过 X-Session-Token 返回。required 为 false 时，缺少令牌的请求直接放行。
func SessionAuth(auth SessionAuthenticator, cookie CookieConfig, required bool, log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("SessionAuth")
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			if required {
				dto.SendError(c, errors.Unauthenticated("missing session"))
				return
			}
			c.Next()
			return
		}

		ctx := c.Request.Context()
		session, stale, err := auth.Authenticate(ctx, token)
		if err != nil {
			log.Warn(ctx, "session rejected", logger.Err(err), logger.String("client_ip", c.ClientIP()))
			dto.SendError(c, err)
			return
		}

		if stale {
			fresh, err := auth.RefreshCurrentSession(ctx, session)
			if err != nil {
				// The old token is still valid; the client gets another chance next request.
				log.Warn(ctx, "stale session could not be re-issued", logger.Err(err),
					logger.String("session_id", session.SessionID))
			} else {
				dto.SetSessionToken(c, fresh, cookie.MaxAgeSeconds, cookie.Secure)
			}
		}

		SetSession(c, session)
		c.Next()
	}
}

// SetSession stores the authenticated session on the gin and request contexts.
func SetSession(c *gin.Context, session *models.Session) {
	c.Set(string(constants.ContextKeySession), session)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), constants.ContextKeySession, session))
}

// CurrentSession returns the session set by SessionAuth.
func CurrentSession(c *gin.Context) (*models.Session, bool) {
	v, ok := c.Get(string(constants.ContextKeySession))
	if !ok {
		return nil, false
	}
	session, ok := v.(*models.Session)
	return session, ok && session != nil
}

// RequestClient builds the audit metadata of the caller.
func RequestClient(c *gin.Context) models.ClientInfo {
	client := models.ClientInfo{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	if session, ok := CurrentSession(c); ok {
		userID := session.UserID
		client.PerformedBy = &userID
		client.Session = session
	}
	return client
}

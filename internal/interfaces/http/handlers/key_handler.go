package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/keyguard/internal/application"
	"github.com/turtacn/keyguard/internal/application/dto"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/interfaces/http/middleware"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// KeyService is the key store surface used by the admin API.
type KeyService interface {
	CheckRotationStatus(ctx context.Context) ([]models.SigningKeyStatus, error)
	AddKey(ctx context.Context, spec models.NewKeySpec, client models.ClientInfo) (*application.AddResult, error)
	RotateKey(ctx context.Context, keyID string, client models.ClientInfo) (*application.RotationResult, error)
	MakeCurrent(ctx context.Context, keyID string, client models.ClientInfo) (*models.SigningKey, error)
}

// EventLog is the audit surface used by the admin API.
type EventLog interface {
	Query(ctx context.Context, limit int, eventType constants.KeyEventType) ([]*models.KeyEvent, error)
	VerifyEvent(event *models.KeyEvent) bool
}

// KeyHandler serves the /api/admin key endpoints.
type KeyHandler struct {
	keys     KeyService
	events   EventLog
	sessions middleware.SessionAuthenticator
	cookie   middleware.CookieConfig
	log      logger.Logger
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(keys KeyService, events EventLog, sessions middleware.SessionAuthenticator, cookie middleware.CookieConfig, log logger.Logger) *KeyHandler {
	return &KeyHandler{keys: keys, events: events, sessions: sessions, cookie: cookie, log: log.WithComponent("KeyHandler")}
}

// Status lists every key with its rotation status.
func (h *KeyHandler) Status(c *gin.Context) {
	statuses, err := h.keys.CheckRotationStatus(c.Request.Context())
	if err != nil {
		h.fail(c, "rotation status check failed", err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, gin.H{"keys": statuses})
}

// Add registers a new key.
func (h *KeyHandler) Add(c *gin.Context) {
	var req dto.AddKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.InvalidRequest(err.Error()))
		return
	}

	res, err := h.keys.AddKey(c.Request.Context(), req.Spec(), middleware.RequestClient(c))
	if err != nil {
		h.fail(c, "add key failed", err)
		return
	}
	h.handOver(c, res.SessionOutcome)
	dto.SendSuccess(c, http.StatusCreated, dto.KeyChangeResponse{
		KeyID:            res.KeyID,
		SessionRefreshed: res.SessionRefreshed,
		RefreshError:     res.RefreshError,
	})
}

// Rotate replaces the material of a key. The key id is kept.
func (h *KeyHandler) Rotate(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("keyId"))
	res, err := h.keys.RotateKey(c.Request.Context(), keyID, middleware.RequestClient(c))
	if err != nil {
		h.fail(c, "rotate key failed", err)
		return
	}
	h.handOver(c, res.SessionOutcome)
	dto.SendSuccess(c, http.StatusOK, dto.KeyChangeResponse{
		KeyID:            res.Key.KeyID,
		Rotated:          res.Rotated,
		SessionRefreshed: res.SessionRefreshed,
		RefreshError:     res.RefreshError,
	})
}

// MakeCurrent promotes a key and re-issues the caller's session under it.
func (h *KeyHandler) MakeCurrent(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("keyId"))
	key, err := h.keys.MakeCurrent(c.Request.Context(), keyID, middleware.RequestClient(c))
	if err != nil {
		h.fail(c, "make current failed", err)
		return
	}

	resp := dto.KeyChangeResponse{KeyID: key.KeyID}
	if session, ok := middleware.CurrentSession(c); ok {
		token, err := h.sessions.RefreshCurrentSession(c.Request.Context(), session)
		if err != nil {
			h.log.Warn(c.Request.Context(), "caller session not re-issued after promotion", logger.Err(err),
				logger.KeyID(key.KeyID))
			resp.RefreshError = err.Error()
		} else {
			dto.SetSessionToken(c, token, h.cookie.MaxAgeSeconds, h.cookie.Secure)
			resp.SessionRefreshed = true
		}
	}
	dto.SendSuccess(c, http.StatusOK, resp)
}

// Events lists key events newest first. ?limit= is clamped to [1, 100], ?type= filters.
func (h *KeyHandler) Events(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			dto.SendError(c, errors.InvalidRequest("limit must be an integer"))
			return
		}
		limit = n
	}

	events, err := h.events.Query(c.Request.Context(), limit, constants.KeyEventType(c.Query("type")))
	if err != nil {
		h.fail(c, "key event query failed", err)
		return
	}

	views := make([]dto.KeyEventView, 0, len(events))
	for _, e := range events {
		views = append(views, dto.KeyEventView{
			ID:          e.ID,
			EventType:   string(e.EventType),
			KeyID:       e.KeyID,
			PerformedBy: e.PerformedBy,
			ClientIP:    e.ClientIP,
			UserAgent:   e.UserAgent,
			CreatedAt:   e.CreatedAt,
			Verified:    h.events.VerifyEvent(e),
		})
	}
	dto.SendSuccess(c, http.StatusOK, dto.KeyEventsResponse{
		Events: views,
		Limit:  models.EventQuery{Limit: limit}.Normalize().Limit,
	})
}

func (h *KeyHandler) handOver(c *gin.Context, out application.SessionOutcome) {
	if out.SessionRefreshed {
		dto.SetSessionToken(c, out.SessionToken, h.cookie.MaxAgeSeconds, h.cookie.Secure)
	}
}

func (h *KeyHandler) fail(c *gin.Context, msg string, err error) {
	if errors.ShouldLogError(err) {
		h.log.Error(c.Request.Context(), msg, err)
	}
	dto.SendError(c, err)
}

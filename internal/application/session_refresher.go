package application

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// keySource is the part of KeyStore the session service reads.
type keySource interface {
	CurrentMaterial(ctx context.Context) (*models.SigningKey, *models.KeyMaterial, error)
	KeyMaterial(ctx context.Context, keyID string, version int) (*models.KeyMaterial, error)
}

// SessionService issues, verifies and refreshes session tokens signed with the current key.
// A session is stale when the key set moved on since it was issued; stale sessions are
// still accepted and re-issued transparently.
// SessionService 签发、验证并刷新使用当前密钥签名的会话令牌。
type SessionService struct {
	keys    keySource
	signer  service.TokenSigner
	store   service.SessionStore
	clock   service.Clock
	ttl     time.Duration
	metrics service.Metrics
	logger  logger.Logger
}

var _ service.SessionRefresher = (*SessionService)(nil)

// NewSessionService creates the session service.
func NewSessionService(
	keys keySource,
	signer service.TokenSigner,
	store service.SessionStore,
	clock service.Clock,
	ttl time.Duration,
	metrics service.Metrics,
	log logger.Logger,
) *SessionService {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if ttl <= 0 {
		ttl = constants.DefaultSessionTTL
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &SessionService{
		keys:    keys,
		signer:  signer,
		store:   store,
		clock:   clock,
		ttl:     ttl,
		metrics: metrics,
		logger:  log.WithComponent("SessionService"),
	}
}

// Issue starts a new session for an already authenticated principal.
func (s *SessionService) Issue(ctx context.Context, userID string) (string, *models.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil, errors.InvalidRequest("userId is required")
	}
	session := &models.Session{SessionID: newID(), UserID: userID}
	token, err := s.sign(ctx, session)
	if err != nil {
		return "", nil, err
	}
	return token, session, nil
}

// RefreshCurrentSession re-issues the caller's token under the current key, keeping the session id.
func (s *SessionService) RefreshCurrentSession(ctx context.Context, session *models.Session) (string, error) {
	if session == nil {
		return "", errors.Unauthenticated("no session")
	}
	next := &models.Session{SessionID: session.SessionID, UserID: session.UserID}
	token, err := s.sign(ctx, next)
	s.metrics.RecordSessionRefresh("current", err == nil)
	if err != nil {
		return "", err
	}
	*session = *next
	return token, nil
}

// RefreshAll bumps the shared session generation. Every token issued before the bump
// is re-issued on its next request.
func (s *SessionService) RefreshAll(ctx context.Context) error {
	gen, err := s.store.BumpGeneration(ctx)
	s.metrics.RecordSessionRefresh("all", err == nil)
	if err != nil {
		return errors.Internal("failed to bump session generation", err)
	}
	s.logger.Info(ctx, "session generation bumped", logger.Int64("generation", gen))
	return nil
}

// Authenticate verifies a token. stale reports whether the token should be re-issued.
func (s *SessionService) Authenticate(ctx context.Context, token string) (session *models.Session, stale bool, err error) {
	session, err = s.signer.Parse(token, func(keyID string, version int) (*models.KeyMaterial, error) {
		return s.keys.KeyMaterial(ctx, keyID, version)
	})
	if err != nil {
		return nil, false, errors.Unauthenticated("invalid session token").WithCause(err)
	}

	gen, err := s.store.Generation(ctx)
	if err != nil {
		s.logger.Warn(ctx, "session generation unavailable", logger.Err(err))
		return session, false, nil
	}
	if session.Generation < gen {
		return session, true, nil
	}

	current, _, err := s.keys.CurrentMaterial(ctx)
	if err != nil {
		return session, false, nil
	}
	stale = session.KeyID != current.KeyID || session.MaterialVersion != current.MaterialVersion
	return session, stale, nil
}

func (s *SessionService) sign(ctx context.Context, session *models.Session) (string, error) {
	key, material, err := s.keys.CurrentMaterial(ctx)
	if err != nil {
		return "", err
	}
	gen, err := s.store.Generation(ctx)
	if err != nil {
		return "", errors.Internal("failed to read session generation", err)
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	session.KeyID = key.KeyID
	session.MaterialVersion = material.MaterialVersion
	session.Generation = gen
	session.IssuedAt = now
	session.ExpiresAt = now.Add(s.ttl)

	token, err := s.signer.Sign(session, material)
	if err != nil {
		return "", errors.Internal("failed to sign session token", err)
	}
	return token, nil
}

package service

import (
	"context"
	"time"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
)

//go:generate mockery --name KeyMaterialProvider --output mocks --outpkg mocks
// KeyMaterialProvider abstracts where secret key material is generated and kept (Vault, local memory).
// Material is addressed by key id and material version; older versions stay readable for verification.
// KeyMaterialProvider 抽象了密钥材料的生成与保存位置（Vault、本地内存）。
// 材料通过密钥 ID 和材料版本寻址；旧版本仍可读取以用于验证。
type KeyMaterialProvider interface {
	// Generate creates and stores new material for the given key and version.
	// Generate 为给定的密钥和版本创建并存储新材料。
	Generate(ctx context.Context, keyID string, version int, algorithm constants.KeyAlgorithm) (*models.KeyMaterial, error)

	// Get loads stored material. It returns errors.ErrUnknownKey when absent.
	// Get 加载已存储的材料。不存在时返回 errors.ErrUnknownKey。
	Get(ctx context.Context, keyID string, version int) (*models.KeyMaterial, error)
}

// RateDecision is the outcome of a rate limiter evaluation.
type RateDecision struct {
	Limited    bool
	RetryAfter time.Duration
	Remaining  int
}

//go:generate mockery --name RateLimiter --output mocks --outpkg mocks
// RateLimiter gates admin validation attempts per principal over a trailing window.
// RateLimiter 在滑动窗口内按主体限制管理员验证尝试。
type RateLimiter interface {
	// IsRateLimited atomically checks the principal's window and, when the principal is
	// not limited, reserves a slot for the current attempt. Two concurrent callers can never
	// both take the last slot.
	// IsRateLimited 原子地检查主体的窗口，若未被限流则为当前尝试预留一个名额。
	IsRateLimited(ctx context.Context, userID string, maxAttempts int, window time.Duration) (RateDecision, error)

	// Backend names the store behind the limiter.
	Backend() constants.RateLimitBackend
}

//go:generate mockery --name AuditLog --output mocks --outpkg mocks
// AuditLog records key events and validation attempts. Record methods never fail the caller;
// write failures are logged and counted.
// AuditLog 记录密钥事件和验证尝试。记录方法不会使调用方失败；写入失败会被记录并计数。
type AuditLog interface {
	RecordKeyEvent(ctx context.Context, eventType constants.KeyEventType, keyID string, client models.ClientInfo)
	RecordAttempt(ctx context.Context, attempt *models.ValidationAttempt)
	// Query returns the newest key events first. limit is clamped to [1, 100].
	Query(ctx context.Context, limit int, eventType constants.KeyEventType) ([]*models.KeyEvent, error)
	// Attempts returns the newest validation attempts of a principal first.
	Attempts(ctx context.Context, userID string, limit int) ([]*models.ValidationAttempt, error)
}

// EventSigner produces and checks the tamper-evidence signature of a key event.
type EventSigner interface {
	Sign(event *models.KeyEvent) string
	Verify(event *models.KeyEvent) bool
}

// AuditSink receives a copy of every persisted key event (e.g. a Kafka topic).
type AuditSink interface {
	Publish(ctx context.Context, event *models.KeyEvent) error
	Close() error
}

//go:generate mockery --name SessionRefresher --output mocks --outpkg mocks
// SessionRefresher re-issues session tokens after the current key changes.
// SessionRefresher 在当前密钥变更后重新签发会话令牌。
type SessionRefresher interface {
	// RefreshCurrentSession re-issues the caller's token under the current key.
	RefreshCurrentSession(ctx context.Context, session *models.Session) (string, error)
	// RefreshAll invalidates the signing context of every outstanding session so each is
	// re-issued on its next request.
	RefreshAll(ctx context.Context) error
}

// SessionStore keeps the session generation counter shared by all replicas.
type SessionStore interface {
	Generation(ctx context.Context) (int64, error)
	BumpGeneration(ctx context.Context) (int64, error)
}

// TokenSigner issues and parses session tokens.
type TokenSigner interface {
	Sign(session *models.Session, material *models.KeyMaterial) (string, error)
	// Parse verifies a token. resolve loads the material named by the token header.
	Parse(token string, resolve func(keyID string, version int) (*models.KeyMaterial, error)) (*models.Session, error)
}

// RoleTier is one strategy in the ordered admin lookup chain.
// RoleTier 是有序管理员查找链中的一个策略。
type RoleTier interface {
	Name() constants.ValidationTier
	// IsAdmin returns a decision or an error. An error lets the next tier decide.
	IsAdmin(ctx context.Context, req models.ValidationRequest) (bool, error)
}

// RotationNotifier is told about keys that are overdue for rotation.
type RotationNotifier interface {
	NotifyOverdue(ctx context.Context, status models.SigningKeyStatus) error
}

// Clock is the source of time for lifecycle decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// HealthChecker is implemented by dependencies exposed through the readiness probe.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}

package application

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/repository"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

// AuditLogService is the append-only record of key events and validation attempts.
// Record methods never return errors: a failed write is logged and counted, and the
// primary action carries on.
// AuditLogService 是密钥事件与验证尝试的仅追加记录。
// 记录方法从不返回错误：写入失败会被记录日志并计数，主操作继续进行。
type AuditLogService struct {
	events   repository.KeyEventRepository
	attempts repository.AttemptRepository
	signer   service.EventSigner
	sink     service.AuditSink
	clock    service.Clock
	metrics  service.Metrics
	logger   logger.Logger
}

var _ service.AuditLog = (*AuditLogService)(nil)

// NewAuditLogService creates the audit log. signer and sink may be nil.
func NewAuditLogService(
	events repository.KeyEventRepository,
	attempts repository.AttemptRepository,
	signer service.EventSigner,
	sink service.AuditSink,
	clock service.Clock,
	metrics service.Metrics,
	log logger.Logger,
) *AuditLogService {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &AuditLogService{
		events:   events,
		attempts: attempts,
		signer:   signer,
		sink:     sink,
		clock:    clock,
		metrics:  metrics,
		logger:   log.WithComponent("AuditLog"),
	}
}

// RecordKeyEvent appends a key lifecycle event and mirrors it to the sink.
func (a *AuditLogService) RecordKeyEvent(ctx context.Context, eventType constants.KeyEventType, keyID string, client models.ClientInfo) {
	// Stored timestamps keep microsecond precision so signatures survive a database round trip.
	now := a.clock.Now().UTC().Truncate(time.Microsecond)
	event := &models.KeyEvent{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		EventType:   eventType,
		KeyID:       keyID,
		PerformedBy: client.PerformedBy,
		ClientIP:    client.IP,
		UserAgent:   client.UserAgent,
		CreatedAt:   now,
	}
	if a.signer != nil {
		event.Signature = a.signer.Sign(event)
	}

	if err := a.events.Append(ctx, event); err != nil {
		a.metrics.RecordAuditWriteFailure("key_event")
		a.logger.Error(ctx, "failed to record key event", err,
			logger.String("event_type", string(eventType)),
			logger.KeyID(keyID),
		)
		return
	}

	if a.sink != nil {
		if err := a.sink.Publish(ctx, event); err != nil {
			a.metrics.RecordAuditWriteFailure("key_event_mirror")
		}
	}
}

// RecordAttempt appends a validation attempt. Missing ids and timestamps are filled in.
func (a *AuditLogService) RecordAttempt(ctx context.Context, attempt *models.ValidationAttempt) {
	if attempt.ID == "" {
		attempt.ID = newID()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = a.clock.Now().UTC()
	}
	if err := a.attempts.Append(ctx, attempt); err != nil {
		a.metrics.RecordAuditWriteFailure("validation_attempt")
		a.logger.Error(ctx, "failed to record validation attempt", err,
			logger.UserID(attempt.UserID),
			logger.ValidationID(attempt.ValidationID),
		)
	}
}

// Query returns key events newest first. limit is clamped to [1, 100] and defaults to 20.
func (a *AuditLogService) Query(ctx context.Context, limit int, eventType constants.KeyEventType) ([]*models.KeyEvent, error) {
	if eventType != "" && !eventType.Valid() {
		return nil, invalidEventType(eventType)
	}
	q := models.EventQuery{Limit: limit, EventType: eventType}.Normalize()
	events, err := a.events.List(ctx, q)
	if err != nil {
		return nil, wrapInternal("failed to query key events", err)
	}
	return events, nil
}

// Attempts returns a principal's validation attempts newest first.
func (a *AuditLogService) Attempts(ctx context.Context, userID string, limit int) ([]*models.ValidationAttempt, error) {
	limit = models.EventQuery{Limit: limit}.Normalize().Limit
	attempts, err := a.attempts.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, wrapInternal("failed to query validation attempts", err)
	}
	return attempts, nil
}

// VerifyEvent reports whether a stored event still carries a valid signature.
func (a *AuditLogService) VerifyEvent(event *models.KeyEvent) bool {
	if a.signer == nil {
		return true
	}
	return a.signer.Verify(event)
}

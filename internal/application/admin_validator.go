package application

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// ValidatorConfig bounds the admin validator.
type ValidatorConfig struct {
	MaxAttempts int
	Window      time.Duration
	TierTimeout time.Duration
	// FailOpen decides what a limiter that cannot be evaluated means.
	// It defaults to constants.RateLimiterFailOpen.
	FailOpen bool
}

// DefaultValidatorConfig returns the production defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAttempts: constants.MaxValidationAttempts,
		Window:      constants.ValidationWindow,
		TierTimeout: constants.DefaultTierTimeout,
		FailOpen:    constants.RateLimiterFailOpen,
	}
}

// TierResult is the tagged outcome of one lookup tier: either a decision or an error.
type TierResult struct {
	Tier    constants.ValidationTier
	Decided bool
	IsAdmin bool
	Err     error
}

// AdminValidator decides whether an authenticated principal holds the admin role.
// It gates on the rate limiter, walks the ordered tier list until one tier decides,
// and records exactly one validation attempt per decision.
// AdminValidator 判断已认证主体是否拥有管理员角色。
// 它先经过限流器，然后按顺序遍历查找层级直到某一层做出决定，每次决策恰好记录一次验证尝试。
type AdminValidator struct {
	limiter service.RateLimiter
	tiers   []service.RoleTier
	audit   service.AuditLog
	clock   service.Clock
	metrics service.Metrics
	cfg     ValidatorConfig
	logger  logger.Logger
}

// NewAdminValidator creates a validator. tiers are tried in the given order.
func NewAdminValidator(
	limiter service.RateLimiter,
	tiers []service.RoleTier,
	audit service.AuditLog,
	clock service.Clock,
	metrics service.Metrics,
	cfg ValidatorConfig,
	log logger.Logger,
) *AdminValidator {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.MaxValidationAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = constants.ValidationWindow
	}
	if cfg.TierTimeout <= 0 {
		cfg.TierTimeout = constants.DefaultTierTimeout
	}
	return &AdminValidator{
		limiter: limiter,
		tiers:   tiers,
		audit:   audit,
		clock:   clock,
		metrics: metrics,
		cfg:     cfg,
		logger:  log.WithComponent("AdminValidator"),
	}
}

// Validate runs one admin validation for req.UserID, which must come from an
// authenticated session.
func (v *AdminValidator) Validate(ctx context.Context, req models.ValidationRequest) (*models.ValidationResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, errors.Unauthenticated("no authenticated principal")
	}

	ctx, span := startSpan(ctx, "AdminValidator.Validate", attribute.String("user_id", req.UserID))
	start := v.clock.Now()
	validationID := newID()

	limited, retryAfter := v.gate(ctx, req.UserID)
	if limited {
		v.record(ctx, req, validationID, start, false, "", constants.AttemptReasonRateLimited)
		v.metrics.RecordRateLimitHit(v.limiter.Backend())
		v.metrics.RecordValidation("", "rate_limited", v.clock.Now().Sub(start))
		v.logger.Warn(ctx, "admin validation rate limited",
			logger.UserID(req.UserID),
			logger.Duration("retry_after", retryAfter),
		)
		err := errors.TooManyRequests(retryAfter)
		endSpan(span, err)
		return nil, err
	}

	results := make([]TierResult, 0, len(v.tiers))
	var decided *TierResult
	for _, tier := range v.tiers {
		r := v.evaluate(ctx, tier, req)
		results = append(results, r)
		if r.Decided {
			decided = &r
			break
		}
		v.metrics.RecordTierFailure(r.Tier)
		v.logger.Warn(ctx, "validation tier failed, trying next",
			logger.String("tier", string(r.Tier)),
			logger.Err(r.Err),
		)
	}

	if decided == nil {
		v.record(ctx, req, validationID, start, false, "", constants.AttemptReasonAllTiersFailed)
		v.metrics.RecordValidation("", "error", v.clock.Now().Sub(start))
		errs := make([]error, 0, len(results))
		for _, r := range results {
			errs = append(errs, r.Err)
		}
		err := errors.Internal("every admin lookup tier failed", stderrors.Join(errs...))
		v.logger.Error(ctx, "admin validation failed", err, logger.UserID(req.UserID))
		endSpan(span, err)
		return nil, err
	}

	// success means the lookup produced an answer, whichever answer it was
	v.record(ctx, req, validationID, start, true, decided.Tier, constants.AttemptReasonOK)
	outcome := "denied"
	if decided.IsAdmin {
		outcome = "admin"
	}
	v.metrics.RecordValidation(decided.Tier, outcome, v.clock.Now().Sub(start))
	span.SetAttributes(attribute.String("tier", string(decided.Tier)), attribute.Bool("is_admin", decided.IsAdmin))
	endSpan(span, nil)

	return &models.ValidationResult{
		IsAdmin:      decided.IsAdmin,
		UserID:       req.UserID,
		Timestamp:    start,
		ValidationID: validationID,
	}, nil
}

// Authorize walks the tiers for an admin-only route. It does not consume the
// validate-admin budget, but the decision is recorded like any other, with
// AttemptReasonAuthorize.
func (v *AdminValidator) Authorize(ctx context.Context, req models.ValidationRequest) (bool, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return false, errors.Unauthenticated("no authenticated principal")
	}
	start := v.clock.Now()
	validationID := newID()
	errs := make([]error, 0, len(v.tiers))
	for _, tier := range v.tiers {
		r := v.evaluate(ctx, tier, req)
		if r.Decided {
			v.record(ctx, req, validationID, start, true, r.Tier, constants.AttemptReasonAuthorize)
			return r.IsAdmin, nil
		}
		v.metrics.RecordTierFailure(r.Tier)
		errs = append(errs, r.Err)
	}
	v.record(ctx, req, validationID, start, false, "", constants.AttemptReasonAuthorize)
	return false, errors.Internal("every admin lookup tier failed", stderrors.Join(errs...))
}

// gate consults the limiter. A limiter error is resolved by the fail-open policy.
func (v *AdminValidator) gate(ctx context.Context, userID string) (bool, time.Duration) {
	decision, err := v.limiter.IsRateLimited(ctx, userID, v.cfg.MaxAttempts, v.cfg.Window)
	if err == nil {
		// a limited caller always gets a retry hint, even at the window edge
		if decision.Limited && decision.RetryAfter < constants.MinRetryAfter {
			return true, constants.MinRetryAfter
		}
		return decision.Limited, decision.RetryAfter
	}

	v.metrics.RecordRateLimiterError(v.limiter.Backend())
	v.logger.Error(ctx, "rate limiter unavailable", err,
		logger.UserID(userID),
		logger.Bool("fail_open", v.cfg.FailOpen),
	)
	if v.cfg.FailOpen {
		return false, 0
	}
	return true, v.cfg.Window
}

func (v *AdminValidator) evaluate(ctx context.Context, tier service.RoleTier, req models.ValidationRequest) TierResult {
	tctx, cancel := context.WithTimeout(ctx, v.cfg.TierTimeout)
	defer cancel()

	tctx, span := startSpan(tctx, "AdminValidator.tier", attribute.String("tier", string(tier.Name())))
	isAdmin, err := tier.IsAdmin(tctx, req)
	endSpan(span, err)

	if err != nil {
		return TierResult{Tier: tier.Name(), Err: err}
	}
	return TierResult{Tier: tier.Name(), Decided: true, IsAdmin: isAdmin}
}

func (v *AdminValidator) record(
	ctx context.Context,
	req models.ValidationRequest,
	validationID string,
	at time.Time,
	success bool,
	tier constants.ValidationTier,
	reason constants.AttemptReason,
) {
	if v.audit == nil {
		return
	}
	// The attempt is written even when the caller has gone away.
	v.audit.RecordAttempt(context.WithoutCancel(ctx), &models.ValidationAttempt{
		ID:           newID(),
		ValidationID: validationID,
		UserID:       req.UserID,
		Timestamp:    at,
		Success:      success,
		IPAddress:    req.IP,
		UserAgent:    req.UserAgent,
		Tier:         tier,
		Reason:       reason,
	})
}

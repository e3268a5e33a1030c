// Package service defines the interfaces for domain services.
package service

import (
	"time"

	"github.com/turtacn/keyguard/pkg/constants"
)

// Metrics defines the interface for collecting business metrics.
// This abstraction allows the application layer to remain independent of the specific monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集业务指标的接口。
// 这种抽象使应用层能够独立于具体的监控实现（例如 Prometheus）。
type Metrics interface {
	// RecordValidation records one admin validation decision and the tier that produced it.
	// RecordValidation 记录一次管理员验证决策及产生该决策的层级。
	RecordValidation(tier constants.ValidationTier, result string, duration time.Duration)

	// RecordTierFailure records a tier that returned an error instead of a decision.
	// RecordTierFailure 记录返回错误而非决策的层级。
	RecordTierFailure(tier constants.ValidationTier)

	// RecordRateLimitHit records an event when the validation limiter rejects a principal.
	// RecordRateLimitHit 记录验证限流器拒绝主体的事件。
	RecordRateLimitHit(backend constants.RateLimitBackend)

	// RecordRateLimiterError records a limiter evaluation failure handled by the fail-open policy.
	// RecordRateLimiterError 记录由失败放行策略处理的限流器评估失败。
	RecordRateLimiterError(backend constants.RateLimitBackend)

	// RecordKeyEvent records a key lifecycle event.
	// RecordKeyEvent 记录密钥生命周期事件。
	RecordKeyEvent(eventType constants.KeyEventType)

	// RecordAuditWriteFailure records an audit write that was dropped.
	// RecordAuditWriteFailure 记录被丢弃的审计写入。
	RecordAuditWriteFailure(kind string)

	// RecordSchedulerTick records a scheduler tick, its outcome and the number of overdue keys seen.
	// RecordSchedulerTick 记录调度器的一次执行、结果及发现的过期密钥数量。
	RecordSchedulerTick(result string, duration time.Duration, overdue int)

	// RecordSessionRefresh records a session token re-issue.
	RecordSessionRefresh(trigger string, success bool)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordValidation(constants.ValidationTier, string, time.Duration) {}
func (NoopMetrics) RecordTierFailure(constants.ValidationTier)                       {}
func (NoopMetrics) RecordRateLimitHit(constants.RateLimitBackend)                    {}
func (NoopMetrics) RecordRateLimiterError(constants.RateLimitBackend)                {}
func (NoopMetrics) RecordKeyEvent(constants.KeyEventType)                            {}
func (NoopMetrics) RecordAuditWriteFailure(string)                                   {}
func (NoopMetrics) RecordSchedulerTick(string, time.Duration, int)                   {}
func (NoopMetrics) RecordSessionRefresh(string, bool)                                {}

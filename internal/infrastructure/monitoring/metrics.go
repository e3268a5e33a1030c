package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	Validations         *prometheus.CounterVec
	ValidationLatency   *prometheus.HistogramVec
	TierFailures        *prometheus.CounterVec
	RateLimitHits       *prometheus.CounterVec
	RateLimiterErrors   *prometheus.CounterVec
	KeyEvents           *prometheus.CounterVec
	AuditWriteFailures  *prometheus.CounterVec
	SchedulerTicks      *prometheus.CounterVec
	SchedulerTickTime   prometheus.Histogram
	OverdueKeys         prometheus.Gauge
	SessionRefreshes    *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ service.Metrics = (*Metrics)(nil)

// NewMetrics creates the Prometheus metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	ns := constants.ServiceName
	return &Metrics{
		Validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "admin_validations_total",
				Help:      "Total number of admin validation decisions.",
			},
			[]string{"tier", "result"},
		),
		ValidationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "admin_validation_latency_seconds",
				Help:      "Latency of admin validations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		TierFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "admin_validation_tier_failures_total",
				Help:      "Total number of validation tiers that failed to decide.",
			},
			[]string{"tier"},
		),
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit hits.",
			},
			[]string{"backend"},
		),
		RateLimiterErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rate_limiter_errors_total",
				Help:      "Total number of limiter evaluations that failed open.",
			},
			[]string{"backend"},
		),
		KeyEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "key_events_total",
				Help:      "Total number of key lifecycle events.",
			},
			[]string{"event_type"},
		),
		AuditWriteFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "audit_write_failures_total",
				Help:      "Total number of audit records that could not be written.",
			},
			[]string{"kind"},
		),
		SchedulerTicks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rotation_scheduler_ticks_total",
				Help:      "Total number of rotation scheduler ticks.",
			},
			[]string{"result"},
		),
		SchedulerTickTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "rotation_scheduler_tick_seconds",
			Help:      "Duration of rotation scheduler ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		OverdueKeys: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "overdue_keys",
			Help:      "Number of keys overdue for rotation at the last tick.",
		}),
		SessionRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "session_refreshes_total",
				Help:      "Total number of session token re-issues.",
			},
			[]string{"trigger", "result"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordValidation records an admin validation decision.
func (m *Metrics) RecordValidation(tier constants.ValidationTier, result string, duration time.Duration) {
	label := string(tier)
	if label == "" {
		label = "none"
	}
	m.Validations.WithLabelValues(label, result).Inc()
	m.ValidationLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordTierFailure records a tier that could not decide.
func (m *Metrics) RecordTierFailure(tier constants.ValidationTier) {
	m.TierFailures.WithLabelValues(string(tier)).Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(backend constants.RateLimitBackend) {
	m.RateLimitHits.WithLabelValues(string(backend)).Inc()
}

// RecordRateLimiterError records a limiter failure absorbed by the fail-open policy.
func (m *Metrics) RecordRateLimiterError(backend constants.RateLimitBackend) {
	m.RateLimiterErrors.WithLabelValues(string(backend)).Inc()
}

func (m *Metrics) RecordKeyEvent(eventType constants.KeyEventType) {
	m.KeyEvents.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) RecordAuditWriteFailure(kind string) {
	m.AuditWriteFailures.WithLabelValues(kind).Inc()
}

// RecordSchedulerTick records one scheduler tick.
func (m *Metrics) RecordSchedulerTick(result string, duration time.Duration, overdue int) {
	m.SchedulerTicks.WithLabelValues(result).Inc()
	m.SchedulerTickTime.Observe(duration.Seconds())
	m.OverdueKeys.Set(float64(overdue))
}

func (m *Metrics) RecordSessionRefresh(trigger string, success bool) {
	m.SessionRefreshes.WithLabelValues(trigger, resultLabel(success)).Inc()
}

// RecordHTTPRequest records a finished HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

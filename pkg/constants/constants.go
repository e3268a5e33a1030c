// Package constants defines system-wide constants for the keyguard service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Signing Key Constants
// ================================================================================

// KeyAlgorithm represents the HMAC algorithm a signing key is used with
type KeyAlgorithm string

const (
	// AlgorithmHS256 represents HMAC with SHA-256 (default)
	AlgorithmHS256 KeyAlgorithm = "HS256"

	// AlgorithmHS384 represents HMAC with SHA-384
	AlgorithmHS384 KeyAlgorithm = "HS384"

	// AlgorithmHS512 represents HMAC with SHA-512
	AlgorithmHS512 KeyAlgorithm = "HS512"
)

// DefaultKeyAlgorithm is the algorithm used for bootstrap keys
const DefaultKeyAlgorithm = AlgorithmHS256

// Valid reports whether the algorithm is one of the supported HMAC variants
func (a KeyAlgorithm) Valid() bool {
	switch a {
	case AlgorithmHS256, AlgorithmHS384, AlgorithmHS512:
		return true
	}
	return false
}

// MaterialSize returns the number of random bytes generated for the algorithm
func (a KeyAlgorithm) MaterialSize() int {
	switch a {
	case AlgorithmHS384:
		return 48
	case AlgorithmHS512:
		return 64
	default:
		return 32
	}
}

const (
	// DefaultRotationFrequency is how long a key may be used before it is due for rotation (30 days)
	DefaultRotationFrequency = 30 * 24 * time.Hour

	// BootstrapKeyPrefix prefixes the key id created when the key set is empty
	BootstrapKeyPrefix = "primary-"

	// Day is the unit used for daysUntilRotation
	Day = 24 * time.Hour
)

// ================================================================================
// Key Event Constants
// ================================================================================

// KeyEventType represents the type of a key lifecycle event
type KeyEventType string

const (
	// KeyEventCreated is emitted when a key is added
	KeyEventCreated KeyEventType = "created"

	// KeyEventRotated is emitted after new material is confirmed for a key
	KeyEventRotated KeyEventType = "rotated"

	// KeyEventMadeCurrent is emitted when a key becomes the current signing key
	KeyEventMadeCurrent KeyEventType = "made-current"
)

// Valid reports whether the event type is known
func (t KeyEventType) Valid() bool {
	switch t {
	case KeyEventCreated, KeyEventRotated, KeyEventMadeCurrent:
		return true
	}
	return false
}

const (
	// DefaultEventPageSize is the page size used when a query does not specify one
	DefaultEventPageSize = 20

	// MaxEventPageSize bounds a single audit query page
	MaxEventPageSize = 100
)

// ================================================================================
// Rate Limiting Constants
// ================================================================================

const (
	// MaxValidationAttempts is the number of validation attempts allowed per window
	MaxValidationAttempts = 5

	// ValidationWindow is the trailing window the attempts are counted in
	ValidationWindow = 5 * time.Minute

	// MinRetryAfter is the shortest retry hint a rate limited caller is given
	MinRetryAfter = time.Second

	// RateLimiterFailOpen treats a limiter that cannot be evaluated as "not limited".
	// A monitoring outage must not lock legitimate admins out.
	RateLimiterFailOpen = true
)

// RateLimitBackend selects the store behind the validation rate limiter
type RateLimitBackend string

const (
	// RateLimitBackendRedis uses a Redis sorted-set sliding window
	RateLimitBackendRedis RateLimitBackend = "redis"

	// RateLimitBackendPostgres uses the is_rate_limited backend function
	RateLimitBackendPostgres RateLimitBackend = "postgres"

	// RateLimitBackendMemory keeps the window in process memory
	RateLimitBackendMemory RateLimitBackend = "memory"
)

// ================================================================================
// Validation Constants
// ================================================================================

// AdminRole is the role value that grants admin access
const AdminRole = "admin"

// ValidationTier names one strategy in the admin lookup chain
type ValidationTier string

const (
	// TierPrimary is the privileged role lookup that bypasses row-level restrictions
	TierPrimary ValidationTier = "primary"

	// TierSecondary is the is_admin backend function
	TierSecondary ValidationTier = "secondary"

	// TierTertiary is the session-scoped role lookup
	TierTertiary ValidationTier = "tertiary"
)

// AttemptReason explains why a validation attempt was recorded as it was
type AttemptReason string

const (
	AttemptReasonOK             AttemptReason = "ok"
	AttemptReasonRateLimited    AttemptReason = "rate_limited"
	AttemptReasonAllTiersFailed AttemptReason = "all_tiers_failed"
	// AttemptReasonAuthorize marks a role check made for an admin-only route
	AttemptReasonAuthorize AttemptReason = "authorize"
)

// DefaultTierTimeout bounds a single validation tier
const DefaultTierTimeout = 2 * time.Second

// ================================================================================
// Scheduler Constants
// ================================================================================

const (
	// DefaultSchedulerInterval is the rotation check interval (720 minutes)
	DefaultSchedulerInterval = 720 * time.Minute

	// DefaultTickTimeout bounds a single scheduler tick
	DefaultTickTimeout = 30 * time.Second
)

// SchedulerState is the state of the rotation scheduler
type SchedulerState string

const (
	SchedulerIdle    SchedulerState = "idle"
	SchedulerTicking SchedulerState = "ticking"
)

// ================================================================================
// Session Constants
// ================================================================================

const (
	// DefaultSessionTTL is the lifetime of a session token
	DefaultSessionTTL = 1 * time.Hour

	// SessionTokenHeader carries a re-issued session token back to the client
	SessionTokenHeader = "X-Session-Token"

	// SessionCookieName is the cookie the admin UI stores the session token in
	SessionCookieName = "kg_session"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyRequestID stores the request ID
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID stores the trace ID
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeySession stores the authenticated session claims
	ContextKeySession ContextKey = "session"

	// ContextKeyClientInfo stores caller metadata (ip, user agent)
	ContextKeyClientInfo ContextKey = "client_info"
)

// ================================================================================
// Logging Constants
// ================================================================================

// LogLevel represents the severity level of log messages
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ServiceName is used for logs, traces and metric namespaces
const ServiceName = "keyguard"

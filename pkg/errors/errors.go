// Package errors defines custom error types and error handling utilities for the keyguard service.
// Structured errors carry a stable code and the HTTP status they are rendered with.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a class of failure independent of its message
type Code string

const (
	CodeUnauthenticated Code = "unauthenticated"
	CodeTooManyRequests Code = "too_many_requests"
	CodeDuplicateKeyID  Code = "duplicate_key_id"
	CodeUnknownKey      Code = "unknown_key"
	CodeInvalidRequest  Code = "invalid_request"
	CodeForbidden       Code = "forbidden"
	CodeVersionConflict Code = "version_conflict"
	CodeNoCurrentKey    Code = "no_current_key"
	CodeInternal        Code = "internal_error"
	CodeUnavailable     Code = "service_unavailable"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// AppError represents a structured error with additional metadata
type AppError interface {
	error

	// Code returns the stable error code
	Code() Code

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Description returns a caller-safe description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) AppError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) AppError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

type baseError struct {
	code        Code
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

func (e *baseError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *baseError) Code() Code          { return e.code }
func (e *baseError) HTTPStatus() int     { return e.httpStatus }
func (e *baseError) Description() string { return e.description }
func (e *baseError) Unwrap() error       { return e.cause }

func (e *baseError) WithCause(cause error) AppError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// Is matches any AppError carrying the same code, so sentinel comparisons
// work with errors.Is regardless of message or metadata.
func (e *baseError) Is(target error) bool {
	t, ok := target.(AppError)
	if !ok {
		return false
	}
	return t.Code() == e.code
}

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new AppError with the specified parameters
func NewError(code Code, httpStatus int, description string, message string) AppError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Sentinels for errors.Is
// ================================================================================

var (
	ErrUnauthenticated = NewError(CodeUnauthenticated, http.StatusUnauthorized, "Authentication required.", "")
	ErrTooManyRequests = NewError(CodeTooManyRequests, http.StatusTooManyRequests, "Too many requests.", "")
	ErrDuplicateKeyID  = NewError(CodeDuplicateKeyID, http.StatusConflict, "A key with this id already exists.", "")
	ErrUnknownKey      = NewError(CodeUnknownKey, http.StatusNotFound, "No key with this id exists.", "")
	ErrVersionConflict = NewError(CodeVersionConflict, http.StatusConflict, "The key set changed concurrently.", "")
	ErrNoCurrentKey    = NewError(CodeNoCurrentKey, http.StatusServiceUnavailable, "No current signing key.", "")
	ErrInternal        = NewError(CodeInternal, http.StatusInternalServerError, "An unexpected error occurred.", "")
)

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// Unauthenticated creates an unauthenticated error
func Unauthenticated(message string) AppError {
	return NewError(CodeUnauthenticated, http.StatusUnauthorized, "Authentication required.", message)
}

// TooManyRequests creates a rate limit error carrying the retry hint
func TooManyRequests(retryAfter time.Duration) AppError {
	return NewError(
		CodeTooManyRequests,
		http.StatusTooManyRequests,
		"Too many requests.",
		fmt.Sprintf("rate limited, retry after %s", retryAfter),
	).WithMetadata("retry_after", retryAfter)
}

// DuplicateKeyID creates a duplicate key id error
func DuplicateKeyID(keyID string) AppError {
	return NewError(CodeDuplicateKeyID, http.StatusConflict,
		"A key with this id already exists.",
		fmt.Sprintf("key %s already exists", keyID),
	).WithMetadata("key_id", keyID)
}

// UnknownKey creates an unknown key error
func UnknownKey(keyID string) AppError {
	return NewError(CodeUnknownKey, http.StatusNotFound,
		"No key with this id exists.",
		fmt.Sprintf("key %s not found", keyID),
	).WithMetadata("key_id", keyID)
}

// InvalidRequest creates an invalid request error
func InvalidRequest(message string) AppError {
	return NewError(CodeInvalidRequest, http.StatusBadRequest, "The request is malformed.", message)
}

// Forbidden creates a forbidden error
func Forbidden(message string) AppError {
	return NewError(CodeForbidden, http.StatusForbidden, "Admin privileges required.", message)
}

// VersionConflict creates a compare-and-swap failure
func VersionConflict(keyID string) AppError {
	return NewError(CodeVersionConflict, http.StatusConflict,
		"The key set changed concurrently.",
		fmt.Sprintf("version conflict on key %s", keyID),
	).WithMetadata("key_id", keyID)
}

// Internal creates an internal error; the description never carries the cause
func Internal(message string, cause error) AppError {
	return NewError(CodeInternal, http.StatusInternalServerError,
		"An unexpected error occurred.", message).WithCause(cause)
}

// Unavailable creates a service unavailable error
func Unavailable(message string) AppError {
	return NewError(CodeUnavailable, http.StatusServiceUnavailable,
		"The service is temporarily unavailable.", message)
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsAppError attempts to find an AppError in the chain
func AsAppError(err error) (AppError, bool) {
	var appErr AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code
func HasCode(err error, code Code) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code() == code
}

// Is forwards to the standard library so callers need a single import
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As forwards to the standard library so callers need a single import
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// RetryAfter extracts the retry hint from a rate limit error
func RetryAfter(err error) (time.Duration, bool) {
	appErr, ok := AsAppError(err)
	if !ok || appErr.Code() != CodeTooManyRequests {
		return 0, false
	}
	d, ok := appErr.Metadata()["retry_after"].(time.Duration)
	return d, ok
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse represents the JSON structure for error responses
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RetryAfter       int    `json:"retryAfter,omitempty"`
}

// ToErrorResponse converts any error to an ErrorResponse and its status.
// Internal errors are rendered generically so no internal detail leaks.
func ToErrorResponse(err error) (int, *ErrorResponse) {
	appErr, ok := AsAppError(err)
	if !ok {
		return http.StatusInternalServerError, &ErrorResponse{
			Error:            string(CodeInternal),
			ErrorDescription: "An unexpected error occurred",
		}
	}

	resp := &ErrorResponse{
		Error:            string(appErr.Code()),
		ErrorDescription: appErr.Description(),
	}
	if d, ok := RetryAfter(err); ok {
		resp.RetryAfter = int((d + time.Second - 1) / time.Second)
	}
	return appErr.HTTPStatus(), resp
}

// ShouldLogError determines if an error should be logged at error level
func ShouldLogError(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		status := appErr.HTTPStatus()
		return status >= 500
	}
	return true
}

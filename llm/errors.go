package llm

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxBodyExcerpt bounds how much of an offending response body a parse
// error carries for diagnostics.
const maxBodyExcerpt = 200

// ErrorType represents the category of a failure.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypeServer      ErrorType = "server"
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeParse       ErrorType = "parse"
	ErrorTypeConcurrency ErrorType = "concurrency"
	ErrorTypeCancelled   ErrorType = "cancelled"
)

// Error is the typed failure value used throughout the package. Every
// failure the client surfaces is a *Error; the Type field is the closed
// set of kinds and the remaining fields carry only what that kind needs
// to act on.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	StatusCode int            // HTTP status for auth/rate_limit/model/server errors
	Field      string         // Offending field for validation errors
	RetryAfter *time.Duration // Server-provided retry hint, rate limits only
	Cause      error          // Wrapped transport or decode error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError creates an error for a caller mistake. It is raised
// before any transport call and never retried.
func NewValidationError(field, message string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Field:   field,
	}
}

// NewAuthError creates an error for a 401/403 response.
func NewAuthError(statusCode int, message string) *Error {
	return &Error{
		Type:       ErrorTypeAuth,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewRateLimitError creates an error for a 429 response. retryAfter is
// the server's hint when one was present and usable, nil otherwise.
func NewRateLimitError(statusCode int, retryAfter *time.Duration, message string) *Error {
	return &Error{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		Retryable:  true,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}
}

// NewModelError creates an error for a 404 response (unknown model or
// endpoint).
func NewModelError(statusCode int, message string) *Error {
	return &Error{
		Type:       ErrorTypeModel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewServerError creates an error for any other non-2xx response. Only
// 5xx responses are considered transient.
func NewServerError(statusCode int, message string) *Error {
	return &Error{
		Type:       ErrorTypeServer,
		Message:    message,
		Retryable:  statusCode >= http.StatusInternalServerError,
		StatusCode: statusCode,
	}
}

// NewNetworkError wraps a transport-level failure that never produced an
// HTTP response.
func NewNetworkError(message string, cause error) *Error {
	return &Error{
		Type:      ErrorTypeNetwork,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewParseError creates an error for a response that failed structural
// validation. body, when given, is truncated to a bounded excerpt.
func NewParseError(message string, body []byte, cause error) *Error {
	if len(body) > 0 {
		message = fmt.Sprintf("%s (body: %s)", message, excerpt(body))
	}
	return &Error{
		Type:    ErrorTypeParse,
		Message: message,
		Cause:   cause,
	}
}

// NewConcurrencyError creates an error for calling a session operation
// while another one is in flight.
func NewConcurrencyError(op string) *Error {
	return &Error{
		Type:    ErrorTypeConcurrency,
		Message: fmt.Sprintf("session is busy: %s rejected while another operation is in flight", op),
	}
}

// NewCancelledError creates an error for a caller-initiated cancellation.
func NewCancelledError(reason string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeCancelled,
		Message: reason,
		Cause:   cause,
	}
}

// ClassifyStatus maps a non-2xx HTTP status to exactly one error kind:
// 429 to rate_limit, 401/403 to auth, 404 to model, anything else to
// server. retryAfter is the raw Retry-After header value; it is attached
// to rate limit errors when it parses as a finite, non-negative number of
// seconds and ignored otherwise.
func ClassifyStatus(statusCode int, retryAfter string) *Error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return NewRateLimitError(statusCode, parseRetryAfter(retryAfter),
			fmt.Sprintf("rate limited (HTTP %d)", statusCode))
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewAuthError(statusCode, fmt.Sprintf("authentication failed (HTTP %d)", statusCode))
	case http.StatusNotFound:
		return NewModelError(statusCode, fmt.Sprintf("model or endpoint not found (HTTP %d)", statusCode))
	default:
		return NewServerError(statusCode, fmt.Sprintf("request failed (HTTP %d)", statusCode))
	}
}

// parseRetryAfter parses a Retry-After header value in seconds. A
// missing, non-numeric, negative, or non-finite value is treated as
// absent so that the computed backoff applies instead. Values too large
// for a time.Duration are pinned to the maximum rather than converted:
// the float multiply would otherwise overflow into a negative duration
// that slips past the backoff cap.
func parseRetryAfter(value string) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return nil
	}
	if seconds > float64(math.MaxInt64)/float64(time.Second) {
		d := time.Duration(math.MaxInt64)
		return &d
	}
	d := time.Duration(seconds * float64(time.Second))
	return &d
}

// excerpt returns a bounded prefix of a response body for diagnostics.
func excerpt(body []byte) string {
	if len(body) <= maxBodyExcerpt {
		return string(body)
	}
	return string(body[:maxBodyExcerpt]) + "..."
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	return errTypeIs(err, ErrorTypeRateLimit)
}

// IsCancelledError checks if an error is a cancellation.
func IsCancelledError(err error) bool {
	return errTypeIs(err, ErrorTypeCancelled)
}

// IsConcurrencyError checks if an error is a session single-flight
// rejection.
func IsConcurrencyError(err error) bool {
	return errTypeIs(err, ErrorTypeConcurrency)
}

// IsRetryableError checks if an error may be retried under policy.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after hint from an error, or nil.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

func errTypeIs(err error, t ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == t
	}
	return false
}

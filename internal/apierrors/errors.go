// Package apierrors defines the structured request error type shared by the
// HTTP handler layer and the domain packages it calls into. It is split out
// from internal/api so domain packages (credits, research, audit, ...) can
// raise a properly coded/status error without importing the handler package
// itself.
package apierrors

import "net/http"

// RequestError captures a structured API error with a status code and machine-readable code.
type RequestError struct {
	Status  int
	CodeVal string
	Message string
	Err     error
}

func (e RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.StatusCode())
}

// Unwrap surfaces the wrapped error for errors.Is/errors.As handling.
func (e RequestError) Unwrap() error {
	return e.Err
}

// Code returns the machine-readable code for the error.
func (e RequestError) Code() string {
	if e.CodeVal != "" {
		return e.CodeVal
	}
	return errorCodeForStatus(e.StatusCode())
}

// StatusCode returns the HTTP status associated with the error.
func (e RequestError) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// ClientMessage returns the message safe to surface to a caller.
func (e RequestError) ClientMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error()
}

// The following constructors build RequestError values for the error kinds
// enumerated by the domain. Handlers translate at the edge; domain packages
// raise these directly so the HTTP status/code travels with the error.

// BadRequest builds a RequestError for inputs failing structural or semantic validation.
func BadRequest(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, CodeVal: "bad_request", Message: message}
}

// Unauthenticated builds a RequestError for a missing or invalid session token.
func Unauthenticated(message string) RequestError {
	if message == "" {
		message = "authentication required"
	}
	return RequestError{Status: http.StatusUnauthorized, CodeVal: "unauthenticated", Message: message}
}

// Forbidden builds a RequestError for cross-user access, including a body user_id mismatch.
func Forbidden(message string) RequestError {
	if message == "" {
		message = "not permitted"
	}
	return RequestError{Status: http.StatusForbidden, CodeVal: "forbidden", Message: message}
}

// NotFound builds a RequestError for an entity that is missing or not owned by the caller.
func NotFound(message string) RequestError {
	if message == "" {
		message = "not found"
	}
	return RequestError{Status: http.StatusNotFound, CodeVal: "not_found", Message: message}
}

// Conflict builds a RequestError for a violated precondition, e.g. a loop-audit
// attempted before a download has completed.
func Conflict(message string) RequestError {
	return RequestError{Status: http.StatusConflict, CodeVal: "conflict", Message: message}
}

// FeatureDisabled builds a RequestError for a feature flag held off; surfaced as 503.
func FeatureDisabled(message string) RequestError {
	return RequestError{Status: http.StatusServiceUnavailable, CodeVal: "feature_disabled", Message: message}
}

// InsufficientCredits builds the 402 raised when a user's balance cannot cover a cost.
func InsufficientCredits(message string) RequestError {
	if message == "" {
		message = "insufficient credits"
	}
	return RequestError{Status: http.StatusPaymentRequired, CodeVal: "insufficient_credits", Message: message}
}

// ServiceUnavailable builds a RequestError for an unreachable queue or provider.
func ServiceUnavailable(message string) RequestError {
	return RequestError{Status: http.StatusServiceUnavailable, CodeVal: "service_unavailable", Message: message}
}

// Fatal builds a generic 500 for an unexpected condition. Callers are expected
// to have already logged the originating error with its stack.
func Fatal(err error) RequestError {
	return RequestError{Status: http.StatusInternalServerError, CodeVal: "internal_error", Message: "an unexpected error occurred", Err: err}
}

// ValidationError builds a RequestError for invalid user input.
func ValidationError(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, CodeVal: "validation_failed", Message: message}
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	default:
		if status >= 500 {
			return "internal_error"
		}
		return "error"
	}
}

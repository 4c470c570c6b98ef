// Package apperr provides the typed service error carried across layers.
// Services fail with a stable code; the HTTP edge owns the code -> status map.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable error code surfaced in the API error envelope
type Code string

const (
	CodeAgentNotFound        Code = "AGENT_NOT_FOUND"
	CodeAgentSuspended       Code = "AGENT_SUSPENDED"
	CodeHandleTaken          Code = "HANDLE_TAKEN"
	CodeInvalidPublicKey     Code = "INVALID_PUBLIC_KEY"
	CodeKeyNotFound          Code = "KEY_NOT_FOUND"
	CodeKeyAlreadyRevoked    Code = "KEY_ALREADY_REVOKED"
	CodeNoActiveKeys         Code = "NO_ACTIVE_KEYS"
	CodeChallengeNotFound    Code = "CHALLENGE_NOT_FOUND"
	CodeChallengeExpired     Code = "CHALLENGE_EXPIRED"
	CodeChallengeAlreadyUsed Code = "CHALLENGE_ALREADY_USED"
	CodeInvalidSignature     Code = "INVALID_SIGNATURE"
	CodeInvalidToken         Code = "INVALID_TOKEN"
	CodeTokenExpired         Code = "TOKEN_EXPIRED"
	CodeAppNotFound          Code = "APP_NOT_FOUND"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeRedisUnavailable     Code = "REDIS_UNAVAILABLE"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error is the typed failure carried from services to the edge
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a typed error with a stable code
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a typed error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithDetails attaches structured details to the error envelope
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the stable code from an error chain, defaulting to
// CodeInternal for untyped errors
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether the error chain carries the given code
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

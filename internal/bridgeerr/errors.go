// Package bridgeerr defines the closed set of bridge failure kinds and
// their mapping onto the wire protocol. Errors are classified once at the
// failure site and translated to HTTP only at the API boundary.
package bridgeerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a bridge failure kind.
type Code string

const (
	CodeAppNotRunning           Code = "app_not_running"
	CodeAccessibilityDenied     Code = "accessibility_denied"
	CodeUIElementNotFound       Code = "ui_element_not_found"
	CodeUIResetFailed           Code = "ui_reset_failed"
	CodeUIError                 Code = "ui_error"
	CodeUsageCap                Code = "usage_cap"
	CodeRateLimitedByChatGPT    Code = "rate_limited_by_chatgpt"
	CodeCaptcha                 Code = "captcha"
	CodeAuthRequired            Code = "auth_required"
	CodeNetworkError            Code = "network_error"
	CodeConversationNotFound    Code = "conversation_not_found"
	CodeFileContextInvalid      Code = "file_context_invalid"
	CodeFileContextUnsupported  Code = "file_context_unsupported"
	CodeFileContextAccessDenied Code = "file_context_access_denied"
	CodeFileContextNotFound     Code = "file_context_not_found"
	CodePromptTooLarge          Code = "prompt_too_large"
	CodeQueueFull               Code = "queue_full"
	CodePreviousResponsePending Code = "previous_response_pending"
	CodeInvalidRequest          Code = "invalid_request"
	CodeUnauthorized            Code = "unauthorized"
	CodeTimeout                 Code = "timeout"
	CodeUnknown                 Code = "unknown"
)

// httpStatus maps every code to its wire status. prompt_too_large is 400
// here; the raw body-limit path overrides it to 413 via Status.
var httpStatus = map[Code]int{
	CodeAppNotRunning:           http.StatusServiceUnavailable,
	CodeAccessibilityDenied:     http.StatusServiceUnavailable,
	CodeUIElementNotFound:       http.StatusPreconditionRequired,
	CodeUIResetFailed:           http.StatusBadGateway,
	CodeUIError:                 http.StatusBadGateway,
	CodeUsageCap:                http.StatusTooManyRequests,
	CodeRateLimitedByChatGPT:    http.StatusTooManyRequests,
	CodeCaptcha:                 http.StatusForbidden,
	CodeAuthRequired:            http.StatusForbidden,
	CodeNetworkError:            http.StatusBadGateway,
	CodeConversationNotFound:    http.StatusNotFound,
	CodeFileContextInvalid:      http.StatusBadRequest,
	CodeFileContextUnsupported:  http.StatusBadRequest,
	CodeFileContextAccessDenied: http.StatusForbidden,
	CodeFileContextNotFound:     http.StatusNotFound,
	CodePromptTooLarge:          http.StatusBadRequest,
	CodeQueueFull:               http.StatusTooManyRequests,
	CodePreviousResponsePending: http.StatusConflict,
	CodeInvalidRequest:          http.StatusBadRequest,
	CodeUnauthorized:            http.StatusUnauthorized,
	CodeTimeout:                 http.StatusGatewayTimeout,
	CodeUnknown:                 http.StatusInternalServerError,
}

// Error is a typed bridge failure. It is constructed at the failure site and
// propagated unchanged to the wire mapper.
type Error struct {
	Code          Code
	Message       string
	Details       map[string]any
	RetryAfterSec int
	// ContextReset records whether a new-chat reset was observed before the
	// failure, so handlers can keep the reset header truthful on errors.
	ContextReset *int
	// Status overrides the default HTTP status for this code when non-zero.
	Status int
	cause  error
}

// New creates a typed bridge error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a typed bridge error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an arbitrary error. Already-typed errors pass through
// unchanged; anything else becomes the unknown escape hatch.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Code: CodeUnknown, Message: err.Error(), cause: err}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a key/value detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithRetryAfter sets the retry hint in seconds.
func (e *Error) WithRetryAfter(sec int) *Error {
	e.RetryAfterSec = sec
	return e
}

// WithContextReset records the observed context-reset flag.
func (e *Error) WithContextReset(reset int) *Error {
	e.ContextReset = &reset
	return e
}

// WithStatus overrides the HTTP status for this occurrence.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithCause records the underlying error for logs without leaking it to the wire.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// HTTPStatus returns the wire status for this error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// As extracts a typed bridge error from an error chain.
func As(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	be, ok := As(err)
	return ok && be.Code == code
}

// Package errors defines the failure taxonomy shared by adapters, the retry
// controller and the dispatcher. Backend-specific failures are mapped to an
// LLMError carrying one of the Kind values below.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failure for retry decisions.
type Kind string

const (
	KindRateLimited        Kind = "rate_limited"
	KindAuthFailure        Kind = "auth_failure"
	KindInvalidRequest     Kind = "invalid_request"
	KindTimeout            Kind = "timeout"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindUnknown            Kind = "unknown"
)

// Transient reports whether failures of this kind are expected to clear up
// on their own.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindBackendUnavailable:
		return true
	default:
		return false
	}
}

// Setup errors abort a whole batch before any item is attempted.
var (
	ErrUnknownBackend = stderrors.New("unknown backend")
	ErrInvalidConfig  = stderrors.New("invalid configuration")
)

// LLMError is a classified backend failure.
type LLMError struct {
	Kind       Kind          `json:"kind"`
	StatusCode int           `json:"status_code,omitempty"`
	Message    string        `json:"message"`
	Backend    string        `json:"backend,omitempty"`
	Model      string        `json:"model,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Err        error         `json:"-"`
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	msg := fmt.Sprintf("[%s] %s (backend=%s, model=%s, code=%d)",
		e.Kind, e.Message, e.Backend, e.Model, e.StatusCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *LLMError) Unwrap() error { return e.Err }

// HTTPStatusCode returns the status associated with the error.
func (e *LLMError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindAuthFailure:
		return http.StatusUnauthorized
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewRateLimitError creates a rate limit error (429). retryAfter is the
// backend's hint; zero means none.
func NewRateLimitError(backend, model, message string, retryAfter time.Duration) *LLMError {
	return &LLMError{
		Kind:       KindRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Backend:    backend,
		Model:      model,
		RetryAfter: retryAfter,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(backend, model, message string) *LLMError {
	return &LLMError{
		Kind:       KindAuthFailure,
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Backend:    backend,
		Model:      model,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(backend, model, message string) *LLMError {
	return &LLMError{
		Kind:       KindInvalidRequest,
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Backend:    backend,
		Model:      model,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(backend, model, message string) *LLMError {
	return &LLMError{
		Kind:       KindTimeout,
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Backend:    backend,
		Model:      model,
	}
}

// NewServiceUnavailableError creates a transient backend error (503).
func NewServiceUnavailableError(backend, model, message string) *LLMError {
	return &LLMError{
		Kind:       KindBackendUnavailable,
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Backend:    backend,
		Model:      model,
	}
}

// NewUnknownError wraps an unclassified failure.
func NewUnknownError(backend, model string, err error) *LLMError {
	msg := "unclassified failure"
	if err != nil {
		msg = err.Error()
	}
	return &LLMError{
		Kind:    KindUnknown,
		Message: msg,
		Backend: backend,
		Model:   model,
		Err:     err,
	}
}

// KindOf classifies any error. It returns the empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var llmErr *LLMError
	if stderrors.As(err, &llmErr) {
		return llmErr.Kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

// RetryAfterOf returns the retry-after hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var llmErr *LLMError
	if stderrors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return 0
}

// Is reports whether err is an LLMError of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromHTTPStatus maps an HTTP failure to an LLMError. body is used as the
// message when non-empty; retryAfter is the raw Retry-After header value.
func FromHTTPStatus(backend, model string, status int, body, retryAfter string) *LLMError {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(status)
	}

	e := &LLMError{
		StatusCode: status,
		Message:    msg,
		Backend:    backend,
		Model:      model,
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = KindAuthFailure
	case status == http.StatusBadRequest,
		status == http.StatusNotFound,
		status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnprocessableEntity:
		e.Kind = KindInvalidRequest
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = ParseRetryAfter(retryAfter, time.Now())
	case status >= 500:
		e.Kind = KindBackendUnavailable
		e.RetryAfter = ParseRetryAfter(retryAfter, time.Now())
	default:
		e.Kind = KindUnknown
	}
	return e
}

// ParseRetryAfter parses a Retry-After header given either as delta seconds
// or as an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

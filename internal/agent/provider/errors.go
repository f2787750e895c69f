package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorCode classifies a provider failure.
type ErrorCode string

const (
	ErrorCodeAuth           ErrorCode = "authentication_failed"
	ErrorCodeRateLimit      ErrorCode = "rate_limit"
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"
	ErrorCodeNetwork        ErrorCode = "network_error"
	ErrorCodeTimeout        ErrorCode = "timeout"
	ErrorCodeCanceled       ErrorCode = "canceled"
	ErrorCodeUnavailable    ErrorCode = "service_unavailable"
	ErrorCodeEmptyResponse  ErrorCode = "empty_response"
	ErrorCodeConfig         ErrorCode = "configuration"
)

// Error wraps a provider failure with its classification.
type Error struct {
	Provider   string
	Code       ErrorCode
	Message    string
	Underlying error
	Retryable  bool
	RetryAfter *time.Duration
}

func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s (%v)", prefix, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether err is a provider error marked retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// RetryAfter returns the server-suggested wait, if any.
func RetryAfter(err error) *time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return nil
}

// CodeOf returns the classification of err, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// fromStatus classifies an HTTP status returned by a provider API.
func fromStatus(provider string, status int, message string, underlying error, header http.Header) *Error {
	e := &Error{Provider: provider, Underlying: underlying}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code, e.Message = ErrorCodeAuth, "authentication failed, check the API key"
	case status == http.StatusTooManyRequests:
		e.Code, e.Message, e.Retryable = ErrorCodeRateLimit, "rate limit exceeded", true
		e.RetryAfter = parseRetryAfter(header)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Code, e.Message, e.Retryable = ErrorCodeTimeout, "request timed out", true
	case status >= 500:
		e.Code, e.Message, e.Retryable = ErrorCodeUnavailable, "service unavailable", true
	case status >= 400:
		e.Code, e.Message = ErrorCodeInvalidRequest, "invalid request"
	default:
		e.Code, e.Message, e.Retryable = ErrorCodeNetwork, "unexpected response", true
	}
	if message != "" {
		e.Message = fmt.Sprintf("%s (status %d): %s", e.Message, status, message)
	} else {
		e.Message = fmt.Sprintf("%s (status %d)", e.Message, status)
	}
	return e
}

// fromTransport classifies an error that happened before a status was
// received.
func fromTransport(provider string, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Provider: provider, Code: ErrorCodeCanceled, Message: "request canceled", Underlying: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Provider: provider, Code: ErrorCodeTimeout, Message: "request timed out", Underlying: err, Retryable: true}
	}
	return &Error{Provider: provider, Code: ErrorCodeNetwork, Message: "could not reach the provider", Underlying: err, Retryable: true}
}

func emptyResponse(provider string) *Error {
	return &Error{Provider: provider, Code: ErrorCodeEmptyResponse, Message: "provider returned no text"}
}

func parseRetryAfter(header http.Header) *time.Duration {
	if header == nil {
		return nil
	}
	v := header.Get("Retry-After")
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

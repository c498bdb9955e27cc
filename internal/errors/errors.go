// Package errors defines the typed failures surfaced by the subscription layer.
//
// Every error returned across a service boundary is a *ServiceError carrying a
// Kind. Callers branch on the kind (or on errors.Is against a sentinel with the
// same code) instead of parsing messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindVerification Kind = "verification"
	KindTransient    Kind = "transient"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// ServiceError is a classified error with a stable machine-readable code.
type ServiceError struct {
	Kind       Kind
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches any ServiceError with the same code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail returns a copy of e with key set in Details.
func (e *ServiceError) WithDetail(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy of e with err as its cause.
func (e *ServiceError) Wrap(err error) *ServiceError {
	cp := *e
	cp.Err = err
	return &cp
}

func newError(kind Kind, status int, code, message string) *ServiceError {
	return &ServiceError{Kind: kind, Code: code, Message: message, HTTPStatus: status}
}

// Validation reports malformed input. Never retried.
func Validation(code, message string) *ServiceError {
	return newError(KindValidation, http.StatusBadRequest, code, message)
}

// Conflict reports a uniqueness violation. The same input must not be retried.
func Conflict(code, message string) *ServiceError {
	return newError(KindConflict, http.StatusConflict, code, message)
}

// Verification reports an on-chain payment that failed checks.
func Verification(code, message string) *ServiceError {
	return newError(KindVerification, http.StatusUnprocessableEntity, code, message)
}

// Transient reports an upstream or storage failure that is safe to retry.
func Transient(code, message string, err error) *ServiceError {
	e := newError(KindTransient, http.StatusServiceUnavailable, code, message)
	e.Err = err
	return e
}

// NotFound reports a missing record.
func NotFound(code, message string) *ServiceError {
	return newError(KindNotFound, http.StatusNotFound, code, message)
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	return newError(KindUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// RateLimitExceeded reports a throttled client.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := newError(KindRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
	e.Details = map[string]any{"limit": limit, "window": window}
	return e
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	e := newError(KindInternal, http.StatusInternalServerError, "INTERNAL", message)
	e.Err = err
	return e
}

// As extracts the ServiceError in err's chain.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if se, ok := As(err); ok {
		return se.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry with backoff.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	if se, ok := As(err); ok && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

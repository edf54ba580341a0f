package models

import (
	"net/http"
	"strconv"

	"election-service/internal/domain"
)

// Transport error codes. Core errors carry their own codes.
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

var statusByKind = map[domain.Kind]int{
	domain.KindValidation:     http.StatusBadRequest,
	domain.KindNotFound:       http.StatusNotFound,
	domain.KindConflict:       http.StatusConflict,
	domain.KindLocked:         http.StatusTooManyRequests,
	domain.KindPhaseViolation: http.StatusConflict,
	domain.KindSecurity:       http.StatusForbidden,
	domain.KindForbidden:      http.StatusForbidden,
	domain.KindInternal:       http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind domain.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FromError converts any error into a status and a client-safe ErrorInfo.
// Internal causes are never exposed.
func FromError(err error) (int, *ErrorInfo) {
	de := domain.AsError(err)
	status := StatusFor(de.Kind)
	if de.Kind == domain.KindInternal {
		return status, &ErrorInfo{Code: ErrCodeInternalError, Message: "internal server error"}
	}
	return status, &ErrorInfo{Code: de.Code, Message: de.Message, Details: de.Details}
}

// RetryAfter returns the Retry-After header value of a lockout, or "".
func (e *ErrorInfo) RetryAfter() string {
	if e == nil || e.Details == nil {
		return ""
	}
	switch v := e.Details["retry_after_seconds"].(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for the transport layer.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindLocked         Kind = "locked"
	KindPhaseViolation Kind = "phase_violation"
	KindSecurity       Kind = "security"
	KindForbidden      Kind = "forbidden"
	KindInternal       Kind = "internal"
)

// Error codes surfaced to clients
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeElectionNotFound   = "ELECTION_NOT_FOUND"
	CodeVoteNotFound       = "VOTE_NOT_FOUND"
	CodeAccessNotFound     = "ACCESS_NOT_FOUND"
	CodeResultNotFound     = "RESULT_NOT_FOUND"
	CodeSecretNotFound     = "SECRET_CODE_NOT_FOUND"
	CodeSecretDeactivated  = "SECRET_CODE_DEACTIVATED"
	CodeSecretLocked       = "SECRET_CODE_LOCKED"
	CodeSecretInvalid      = "SECRET_CODE_INVALID"
	CodeSecretExists       = "SECRET_CODE_EXISTS"
	CodeAlreadyVoted       = "ALREADY_VOTED"
	CodeConcurrentVote     = "CONCURRENT_VOTE"
	CodeNotEligible        = "NOT_ELIGIBLE"
	CodePhaseViolation     = "PHASE_VIOLATION"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeIntegrityViolation = "INTEGRITY_VIOLATION"
	CodeForbidden          = "FORBIDDEN"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is the typed error raised by every core component.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so callers can compare against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail adds a client-facing detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Sentinels for errors.Is comparisons
var (
	ErrSecretCodeNotFound    = newError(KindNotFound, CodeSecretNotFound, "secret code not found")
	ErrSecretCodeDeactivated = newError(KindSecurity, CodeSecretDeactivated, "secret code has been deactivated")
	ErrSecretCodeLocked      = newError(KindLocked, CodeSecretLocked, "secret code is locked")
	ErrInvalidSecretCode     = newError(KindValidation, CodeSecretInvalid, "invalid secret code")
	ErrSecretCodeExists      = newError(KindConflict, CodeSecretExists, "an active secret code already exists")
	ErrAlreadyVoted          = newError(KindConflict, CodeAlreadyVoted, "vote already recorded for this position")
	ErrConcurrentVote        = newError(KindConflict, CodeConcurrentVote, "another vote of this voter was being recorded, retry").WithDetail("retryable", true)
	ErrNotEligible           = newError(KindForbidden, CodeNotEligible, "voter is not eligible for this position")
	ErrPhaseViolation        = newError(KindPhaseViolation, CodePhaseViolation, "operation not allowed in the current phase")
	ErrElectionNotFound      = newError(KindNotFound, CodeElectionNotFound, "election not found")
	ErrVoteNotFound          = newError(KindNotFound, CodeVoteNotFound, "vote not found")
	ErrAccessNotFound        = newError(KindNotFound, CodeAccessNotFound, "voter access not found")
	ErrResultNotFound        = newError(KindNotFound, CodeResultNotFound, "result snapshot not found")
	ErrInvalidTransition     = newError(KindConflict, CodeInvalidTransition, "invalid state transition")
	ErrIntegrityViolation    = newError(KindSecurity, CodeIntegrityViolation, "vote integrity check failed")
	ErrForbidden             = newError(KindForbidden, CodeForbidden, "operation not permitted for this role")
)

// Validation builds a malformed-input error.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, CodeInvalidInput, fmt.Sprintf(format, args...))
}

// Internal wraps an unexpected failure, usually persistence.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// CodeLocked reports a lockout together with the time the client may retry.
func CodeLocked(lockedUntil, now time.Time) *Error {
	retryAfter := lockedUntil.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return newError(KindLocked, CodeSecretLocked, "secret code is locked after too many failed attempts").
		WithDetail("locked_until", lockedUntil.UTC().Format(time.RFC3339)).
		WithDetail("retry_after_seconds", int64(retryAfter.Round(time.Second)/time.Second))
}

// InvalidCode reports a hash mismatch with the attempts left before lockout.
func InvalidCode(remaining int) *Error {
	if remaining < 0 {
		remaining = 0
	}
	return newError(KindValidation, CodeSecretInvalid, "invalid secret code").
		WithDetail("attempts_remaining", remaining)
}

// NotEligible reports a voter who may not vote on a position. A non-active access
// status is passed on to the client.
func NotEligible(status AccessStatus) *Error {
	err := newError(KindForbidden, CodeNotEligible, "voter is not eligible for this position")
	if status != "" && status != AccessActive {
		err.WithDetail("access_status", string(status))
	}
	return err
}

// PhaseError reports an operation attempted outside its phase.
func PhaseError(current Phase, status ElectionStatus) *Error {
	return newError(KindPhaseViolation, CodePhaseViolation, "voting is not open for this election").
		WithDetail("current_phase", string(current)).
		WithDetail("election_status", string(status))
}

// Transition reports an illegal state-machine move.
func Transition(entity, from, to string) *Error {
	return newError(KindConflict, CodeInvalidTransition,
		fmt.Sprintf("%s cannot move from %s to %s", entity, from, to))
}

// Integrity reports a persisted vote whose hashes or signature do not verify.
func Integrity(voteID, reason string) *Error {
	return newError(KindSecurity, CodeIntegrityViolation, "vote integrity check failed").
		WithDetail("vote_id", voteID).
		WithDetail("reason", reason)
}

// KindOf returns the kind of a core error, KindInternal for anything else.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError extracts the typed error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal("unexpected error", err)
}

// Propagate returns core errors unchanged and wraps anything else as internal.
func Propagate(message string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return Internal(message, err)
}

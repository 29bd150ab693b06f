// Package services implements the streak engine: claim evaluation, the
// backward-walk recompute, milestone shield grants, freezes, pauses, the
// recovery orchestrator and per-user reconciliation.
//
// This file defines the tagged error type every operation returns. A Kind
// is a closed, machine-readable code; translation into HTTP statuses or
// exit codes happens at the boundary.
package services

import (
	"errors"
	"fmt"
)

// Kind is a stable error code.
type Kind string

const (
	KindAlreadyClaimed       Kind = "ALREADY_CLAIMED"
	KindNoHealthData         Kind = "NO_HEALTH_DATA"
	KindFutureDate           Kind = "FUTURE_DATE"
	KindTooOld               Kind = "TOO_OLD"
	KindInvalidDate          Kind = "INVALID_DATE"
	KindInvalidTimezone      Kind = "INVALID_TIMEZONE"
	KindInvalidArgument      Kind = "INVALID_ARGUMENT"
	KindNoFreezesAvailable   Kind = "NO_FREEZES_AVAILABLE"
	KindInvalidDateRange     Kind = "INVALID_DATE_RANGE"
	KindDateHasActivity      Kind = "DATE_HAS_ACTIVITY"
	KindStreakNotFound       Kind = "STREAK_NOT_FOUND"
	KindAlreadyInProgress    Kind = "ALREADY_IN_PROGRESS"
	KindRecoveryLimitReached Kind = "RECOVERY_LIMIT_REACHED"
	KindNoBrokenStreak       Kind = "NO_BROKEN_STREAK"
	KindRecoveryWindowClosed Kind = "RECOVERY_WINDOW_CLOSED"
	KindPaymentFailed        Kind = "PAYMENT_FAILED"
	KindRecoveryNotFound     Kind = "RECOVERY_NOT_FOUND"
	KindRecoveryNotPending   Kind = "RECOVERY_NOT_PENDING"
	KindRecoveryExpired      Kind = "RECOVERY_EXPIRED"
	KindInvalidRecoveryType  Kind = "INVALID_RECOVERY_TYPE"
	KindAlreadyPaused        Kind = "ALREADY_PAUSED"
	KindInvalidResumeDate    Kind = "INVALID_RESUME_DATE"
	KindNotPaused            Kind = "NOT_PAUSED"
	KindUnavailable          Kind = "COLLABORATOR_UNAVAILABLE"
	KindConflict             Kind = "CONFLICT"
	KindInternal             Kind = "INTERNAL"
)

// Kinds lists every Kind; the HTTP layer tests its mapping against it.
var Kinds = []Kind{
	KindAlreadyClaimed, KindNoHealthData, KindFutureDate, KindTooOld,
	KindInvalidDate, KindInvalidTimezone, KindInvalidArgument,
	KindNoFreezesAvailable, KindInvalidDateRange, KindDateHasActivity, KindStreakNotFound,
	KindAlreadyInProgress, KindRecoveryLimitReached, KindNoBrokenStreak,
	KindRecoveryWindowClosed, KindPaymentFailed,
	KindRecoveryNotFound, KindRecoveryNotPending, KindRecoveryExpired, KindInvalidRecoveryType,
	KindAlreadyPaused, KindInvalidResumeDate, KindNotPaused,
	KindUnavailable, KindConflict, KindInternal,
}

// Error is the engine's failure value.
type Error struct {
	Kind   Kind
	Detail string
	Err    error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so the sentinels below work
// with errors.Is regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrAlreadyClaimed       = &Error{Kind: KindAlreadyClaimed}
	ErrNoHealthData         = &Error{Kind: KindNoHealthData}
	ErrFutureDate           = &Error{Kind: KindFutureDate}
	ErrTooOld               = &Error{Kind: KindTooOld}
	ErrInvalidDate          = &Error{Kind: KindInvalidDate}
	ErrInvalidTimezone      = &Error{Kind: KindInvalidTimezone}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrNoFreezesAvailable   = &Error{Kind: KindNoFreezesAvailable}
	ErrInvalidDateRange     = &Error{Kind: KindInvalidDateRange}
	ErrDateHasActivity      = &Error{Kind: KindDateHasActivity}
	ErrStreakNotFound       = &Error{Kind: KindStreakNotFound}
	ErrAlreadyInProgress    = &Error{Kind: KindAlreadyInProgress}
	ErrRecoveryLimitReached = &Error{Kind: KindRecoveryLimitReached}
	ErrNoBrokenStreak       = &Error{Kind: KindNoBrokenStreak}
	ErrRecoveryWindowClosed = &Error{Kind: KindRecoveryWindowClosed}
	ErrPaymentFailed        = &Error{Kind: KindPaymentFailed}
	ErrRecoveryNotFound     = &Error{Kind: KindRecoveryNotFound}
	ErrRecoveryNotPending   = &Error{Kind: KindRecoveryNotPending}
	ErrRecoveryExpired      = &Error{Kind: KindRecoveryExpired}
	ErrInvalidRecoveryType  = &Error{Kind: KindInvalidRecoveryType}
	ErrAlreadyPaused        = &Error{Kind: KindAlreadyPaused}
	ErrInvalidResumeDate    = &Error{Kind: KindInvalidResumeDate}
	ErrNotPaused            = &Error{Kind: KindNotPaused}
	ErrUnavailable          = &Error{Kind: KindUnavailable}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrInternal             = &Error{Kind: KindInternal}
)

func newErr(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// asError normalizes err so callers only ever see *Error values.
func asError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Err: err}
}

// Package bookingerr classifies every error the saga engine can produce
// into the handful of kinds the rest of the system reacts to.
package bookingerr

import "errors"

// Kind buckets an error into the handling path the engine takes for it.
type Kind string

const (
	// KindValidation means the request itself is malformed; never retried.
	KindValidation Kind = "validation"
	// KindTransient means the downstream call can be retried as-is.
	KindTransient Kind = "transient"
	// KindPermanent means the downstream call will never succeed; triggers compensation.
	KindPermanent Kind = "permanent"
	// KindHoldExpired means a component hold lapsed before confirmation.
	KindHoldExpired Kind = "hold_expired"
	// KindCompensationFailed means a rollback step itself failed after exhausting retries.
	KindCompensationFailed Kind = "compensation_failed"
	// KindConflict means an optimistic-concurrency write lost the race.
	KindConflict Kind = "conflict"
	// KindLeaseLost means this worker no longer owns the booking it was driving.
	KindLeaseLost Kind = "lease_lost"
	// KindFraud means the payment processor or a risk check rejected the booking outright.
	KindFraud Kind = "fraud"
)

// Error pairs a Kind with the underlying cause. Callers compare Kind, not
// the wrapped error, so message text can vary freely.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// ClassifyOf extracts the Kind carried by err, defaulting to KindTransient
// for errors the engine has no stronger opinion about — an unclassified
// downstream failure is safer to retry than to treat as permanent.
func ClassifyOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindTransient
}

// Sentinel errors for conditions that do not originate from a downstream
// call and so need no further wrapping.
var (
	ErrBookingNotFound      = errors.New("booking not found")
	ErrBookingAlreadyExists = errors.New("booking already exists")
	ErrInvalidTransition    = errors.New("invalid booking state transition")
	ErrLeaseHeldByOther     = errors.New("booking lease held by another worker")
	ErrVersionConflict      = errors.New("booking version conflict")
	ErrNoCompensationDefined = errors.New("no compensation defined for step")
)

// Validation wraps err as a validation failure.
func Validation(err error) error { return New(KindValidation, err) }

// Transient wraps err as retryable.
func Transient(err error) error { return New(KindTransient, err) }

// Permanent wraps err as non-retryable, triggering compensation.
func Permanent(err error) error { return New(KindPermanent, err) }

// HoldExpired wraps err as a lapsed hold.
func HoldExpired(err error) error { return New(KindHoldExpired, err) }

// CompensationFailed wraps err as an exhausted rollback.
func CompensationFailed(err error) error { return New(KindCompensationFailed, err) }

// Conflict wraps err as an optimistic-concurrency loss.
func Conflict(err error) error { return New(KindConflict, err) }

// LeaseLost wraps err as an ownership loss mid-drive.
func LeaseLost(err error) error { return New(KindLeaseLost, err) }

// Fraud wraps err as a risk/fraud rejection.
func Fraud(err error) error { return New(KindFraud, err) }

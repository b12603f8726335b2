package booking

import (
	"context"
	"errors"
	"fmt"

	"gaia/internal/model"
)

// Rejection reasons and failures returned by the booking core. Callers
// match them with errors.Is.
var (
	ErrInvalidRange         = errors.New("invalid range")
	ErrOutsideBusinessHours = errors.New("outside business hours")
	ErrConflict             = errors.New("conflicts with an existing reservation")
	ErrBlocked              = errors.New("blocked by administrator")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNotFound             = errors.New("not found")
	ErrInvalidRequest       = errors.New("invalid request")

	// ErrTransient marks store timeouts and unavailability. Safe to retry.
	ErrTransient = errors.New("store temporarily unavailable")
)

// TransitionError is returned for a disallowed state machine edge.
type TransitionError struct {
	ReservationID int64
	From          model.Status
	To            model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reservation %d: cannot move from %s to %s", e.ReservationID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsRejection reports whether err is a validation outcome rather than a failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrOutsideBusinessHours) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrBlocked)
}

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// storeError classifies an error coming back from the store. Deadline
// expiry becomes ErrTransient; caller cancellation is passed through.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return err
}

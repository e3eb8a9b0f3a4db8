package domain

import "github.com/cockroachdb/errors"

// Error kinds. Every error returned by the core is marked with exactly one of
// these so the HTTP boundary can translate it without string matching.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrConflict   = errors.New("conflict")
	ErrGateway    = errors.New("payment gateway error")
)

// Specific conflicts. They stay distinct from one another; Conflict attaches
// the kind where they are returned.
var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrDuplicatePayment     = errors.New("payment reference already booked")
	ErrStaleBooking         = errors.New("booking was modified concurrently")
	ErrPlaceUnavailable     = errors.New("place is not available for the selected dates")
)

// Conflict marks err with the conflict kind without changing its identity.
func Conflict(err error) error {
	return errors.Mark(err, ErrConflict)
}

func Validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func Permissionf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrPermission)
}

func Conflictf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

// Gatewayf marks cause as a payment gateway failure. cause may be nil.
func Gatewayf(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return errors.Mark(errors.Newf(format, args...), ErrGateway)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrGateway)
}

package registration

import "errors"

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrEventCancelled       = errors.New("event has been cancelled")
	ErrRegistrationNotOpen  = errors.New("registration has not started yet")
	ErrRegistrationClosed   = errors.New("registration deadline has passed")
	ErrEventFull            = errors.New("event capacity is full")
	ErrAlreadyRegistered    = errors.New("you are already registered for this event")
	ErrInvalidStatus        = errors.New("unknown registration status")
	ErrInvalidTransition    = errors.New("registration status change not allowed")
	ErrPaymentRequired      = errors.New("registration requires payment before confirmation")
	ErrForbidden            = errors.New("registration belongs to another user")
	ErrRegistrationConflict = errors.New("a concurrent registration for this event is in progress")
)

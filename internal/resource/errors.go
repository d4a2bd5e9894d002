package resource

import "errors"

// ErrIllegalState is returned when an operation is attempted while the
// service or a component is not in a state that allows it (e.g.
// allocating before Start, or configuring after Start).
var ErrIllegalState = errors.New("resource: illegal state")

// ErrIllegalArgument is returned when a caller-supplied argument
// violates a documented precondition (nil SPI, empty name, negative
// timeout, and so on).
var ErrIllegalArgument = errors.New("resource: illegal argument")

// ErrNoCardResourceAvailable is returned by GetCardResource when no
// candidate reader currently holds a matching, free card and the
// caller did not configure blocking allocation (or the blocking
// timeout elapsed).
var ErrNoCardResourceAvailable = errors.New("resource: no card resource available")

// ErrUnknownProfile is returned when GetCardResource is called with a
// profile name that was never registered via a CardResourceProfileConfigurator.
var ErrUnknownProfile = errors.New("resource: unknown profile")

package scene

import "errors"

var (
	// ErrInvalidElement reports a malformed element or property set.
	ErrInvalidElement = errors.New("invalid element")

	// ErrNotFound reports an unknown element id.
	ErrNotFound = errors.New("element not found")

	// ErrInvariantViolation reports an operation that would break the
	// one-background rule or the background's ordering and selection flags.
	ErrInvariantViolation = errors.New("scene invariant violation")
)

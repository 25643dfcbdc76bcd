package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClaimLost means the row's lock token no longer matches the caller's claim.
	ErrClaimLost = errors.New("claim lost")
)

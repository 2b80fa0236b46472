package store

import "errors"

var (
	// ErrValidation rejects a malformed mutation at enqueue. Never retried.
	ErrValidation = errors.New("invalid mutation")

	// ErrAlreadyInFlight guards the one-in-flight-per-entity invariant.
	ErrAlreadyInFlight = errors.New("entity already has a mutation in flight")

	ErrNotFound = errors.New("not found")
)

package cache

import "errors"

// The cache's error taxonomy is a closed set: nil (OK), ErrNotFound, or
// ErrGeneric. These are ordinary sentinel errors, comparable with
// errors.Is, matching the cache's three-outcome SUCCESS/ERROR/
// NOT_FOUND integer codes without resorting to string matching.
var (
	// ErrNotFound is returned when a lookup or delete finds no matching
	// entry.
	ErrNotFound = errors.New("cache: not found")
	// ErrGeneric covers invalid arguments and invariant violations.
	// Allocation failure has no direct Go analogue and is never reported
	// through it.
	ErrGeneric = errors.New("cache: generic error")
)

// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrForbidden indicates that the current user may not act on
// a reservation or hub, while ErrConflict signals that a write collided
// with an existing unique row (e.g. a second pending extension request
// for the same reservation).
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own or a hub they do not steward.
// Handlers should translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an insert or update cannot be
// performed because of a conflicting unique row. Handlers should
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

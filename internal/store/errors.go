package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness constraint,
// such as a second user with the same email or an existing activity id.
var ErrConflict = errors.New("conflict")

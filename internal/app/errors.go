package app

import "errors"

var (
	// ErrNotFound indicates the requested identity is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a direct create collided with an existing
	// access token or scientific name.
	ErrConflict = errors.New("plant with this scientific name or access token already exists")
	// ErrNoFields indicates an update payload carried nothing to apply.
	ErrNoFields = errors.New("no valid fields to update")
)

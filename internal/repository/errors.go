package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint was violated.
	ErrConflict = errors.New("repository: conflict")
	// ErrInvalidID indicates an identifier that cannot address a document.
	ErrInvalidID = errors.New("repository: invalid id")
)

package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a record with the same identifier already exists.
var ErrConflict = errors.New("repository: conflict")

// ErrInvalidTransition indicates the requested status change is not allowed from the stored status.
var ErrInvalidTransition = errors.New("repository: invalid status transition")

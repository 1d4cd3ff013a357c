package models

import "errors"

var (
	// ErrNotFound is returned when a device, reading or automation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected before it reaches storage.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a write collides with existing state, e.g. a duplicate topic.
	ErrConflict = errors.New("conflict")
)

package store

import "errors"

// ErrDuplicateUsername is returned when a user insert hits the unique
// username constraint.
var ErrDuplicateUsername = errors.New("username already exists")

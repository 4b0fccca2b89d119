package domain

import "errors"

// Common errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrForbidden       = errors.New("access forbidden: you don't belong to this team")
	ErrAlreadySettled  = errors.New("invoice already paid")
	ErrDuplicateCommit = errors.New("charge commit rejected: another commit holds the order identifier")
)

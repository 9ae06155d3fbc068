package admin

import "errors"

var (
	ErrEventConflict = errors.New("event conflict")
	ErrTierConflict  = errors.New("tier conflict")
	ErrBadCapacity   = errors.New("capacity must be positive")
)

package inventory

import "errors"

var (
	ErrTierNotFound  = errors.New("tier not found")
	ErrEventNotFound = errors.New("event not found")
)

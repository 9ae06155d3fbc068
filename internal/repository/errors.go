package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrTierNotFound = errors.New("tier not found")
	ErrHoldNotFound = errors.New("hold not found")
	ErrHoldExpired  = errors.New("hold expired")
	ErrHoldMismatch = errors.New("hold does not match order request")
	ErrOrderState   = errors.New("order is not in a state allowing this transition")
	ErrTicketState  = errors.New("ticket is not in a state allowing this transition")
)

// InsufficientStockError is returned when an automatic allocation cannot
// claim the requested quantity. Available is the direct count of free rows
// at the moment the transaction gave up, so callers can retry with less.
type InsufficientStockError struct {
	Requested int
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: requested %d, available %d", e.Requested, e.Available)
}

// PartialConflictError is returned when a manual allocation claimed fewer
// rows than requested. The claim is rolled back as a whole; FailedIDs names
// exactly the tickets a concurrent request took first.
type PartialConflictError struct {
	FailedIDs []int64
}

func (e *PartialConflictError) Error() string {
	return fmt.Sprintf("tickets no longer available: %v", e.FailedIDs)
}
package reservation

import (
	"errors"
	"fmt"
)

var (
	ErrTierNotFound = errors.New("tier not found")
	ErrHoldNotFound = errors.New("hold not found")
	ErrRateLimited  = errors.New("rate limited")
)

// InvalidQuantityError rejects a request before any transaction opens.
type InvalidQuantityError struct {
	Qty int
	Max int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d: must be between 1 and %d", e.Qty, e.Max)
}

// InsufficientStockError is a contention outcome, not an exceptional path:
// fewer free tickets existed than were requested. Available lets the caller
// retry with a smaller quantity.
type InsufficientStockError struct {
	Requested int
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock: requested %d, available %d", e.Requested, e.Available)
}

// PartialConflictError is the manual-allocation contention outcome: some of
// the requested tickets were taken first. Nothing was reserved; FailedIDs
// tells the caller which seats to re-offer.
type PartialConflictError struct {
	FailedIDs []int64
}

func (e *PartialConflictError) Error() string {
	return fmt.Sprintf("tickets already taken: %v", e.FailedIDs)
}

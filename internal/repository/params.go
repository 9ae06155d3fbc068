package repository

import "github.com/google/uuid"

// FinalizeParams describes the purchase request a hold is validated against.
// Event, tier and quantity must exactly match the hold; a mismatch means the
// client and server have drifted and is surfaced rather than trusted.
type FinalizeParams struct {
	HoldID  uuid.UUID
	UserID  int64
	EventID int64
	TierID  int64
	Qty     int
}

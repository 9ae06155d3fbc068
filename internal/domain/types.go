package domain

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketHeld      TicketStatus = "held"
	TicketSold      TicketStatus = "sold"
	TicketUsed      TicketStatus = "used"
	TicketRefunded  TicketStatus = "refunded"
)

// Sellable reports whether a ticket in this status can still enter a hold.
func (s TicketStatus) Sellable() bool {
	return s == TicketAvailable
}

// Settled reports whether a ticket has reached a sold-or-later status.
// Settled tickets count against tier capacity permanently.
func (s TicketStatus) Settled() bool {
	return s == TicketSold || s == TicketUsed || s == TicketRefunded
}

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderRefunded OrderStatus = "refunded"
)

// AllocationMode is the strategy used to pick ticket rows for a hold.
type AllocationMode string

const (
	AllocAuto   AllocationMode = "auto"
	AllocManual AllocationMode = "manual"
)

type Event struct {
	ID         int64
	Title      string
	SaleStarts time.Time
	Starts     time.Time
	CreatedAt  time.Time
}

type Tier struct {
	ID         int64
	EventID    int64
	Name       string
	Capacity   int
	PriceCents int
	CreatedAt  time.Time
}

type Ticket struct {
	ID          int64
	Code        string
	EventID     int64
	TierID      int64
	SeatNumber  *int
	Status      TicketStatus
	HoldID      *uuid.UUID
	OrderID     *uuid.UUID
	UserID      *int64
	PriceCents  int
	PurchasedAt *time.Time
	RefundedAt  *time.Time
	UsedAt      *time.Time
}

type Hold struct {
	ID        uuid.UUID
	EventID   int64
	TierID    int64
	Qty       int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// HoldReceipt is what a successful allocation hands back to the caller:
// the hold itself, the tickets bound to it, and the mode that was applied.
type HoldReceipt struct {
	Hold      Hold
	TicketIDs []int64
	Mode      AllocationMode
}

type Order struct {
	ID        uuid.UUID
	UserID    int64
	EventID   int64
	TierID    int64
	Qty       int
	Status    OrderStatus
	HoldID    uuid.UUID
	CreatedAt time.Time
	PaidAt    *time.Time
}

type OrderWithTickets struct {
	Order   Order
	Tickets []Ticket
}

// TierCounts is the Capacity Oracle snapshot for one (event, tier).
// Available is always a direct row count, never capacity minus the rest:
// a subtraction over cached aggregates drifts under concurrent writers.
type TierCounts struct {
	Capacity  int64
	Available int64
	Held      int64
	Sold      int64
}

// TierSale carries the inputs the allocation strategy needs about a tier.
type TierSale struct {
	EventID    int64
	TierID     int64
	SaleStarts time.Time
}

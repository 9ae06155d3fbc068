package httpgin

import (
	"time"

	"github.com/ostrovok-lab/gatecheck/internal/domain"
)

type CreateHoldRequest struct {
	UserID    int64   `json:"user_id"`
	Quantity  int     `json:"quantity"`
	TicketIDs []int64 `json:"ticket_ids"`
}

type CreateHoldResponse struct {
	HoldID      string  `json:"hold_id"`
	Mode        string  `json:"mode"`
	ExpiresAtMs int64   `json:"expires_at_ms"`
	TicketIDs   []int64 `json:"ticket_ids"`
}

type CreateOrderRequest struct {
	HoldID   string `json:"hold_id" binding:"required,uuid"`
	UserID   int64  `json:"user_id" binding:"required"`
	EventID  int64  `json:"event_id" binding:"required"`
	TierID   int64  `json:"tier_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

type CreateOrderResponse struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type HoldView struct {
	HoldID      string `json:"hold_id"`
	Qty         int    `json:"qty"`
	CreatedAtMs int64  `json:"created_at_ms"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

type TierInventoryResponse struct {
	Capacity    int64      `json:"capacity"`
	Sold        int64      `json:"sold"`
	ActiveHolds int64      `json:"active_holds"`
	Available   int64      `json:"available"`
	Holds       []HoldView `json:"holds"`
}

type TierView struct {
	TierID     int64  `json:"tier_id"`
	Name       string `json:"name"`
	Capacity   int    `json:"capacity"`
	PriceCents int    `json:"price_cents"`
}

type EventResponse struct {
	EventID      int64      `json:"event_id"`
	Title        string     `json:"title"`
	SaleStartsAt time.Time  `json:"sale_starts_at"`
	StartsAt     time.Time  `json:"starts_at"`
	Tiers        []TierView `json:"tiers"`
}

type TicketView struct {
	TicketID   int64  `json:"ticket_id"`
	Code       string `json:"code"`
	SeatNumber *int   `json:"seat_number,omitempty"`
	Status     string `json:"status"`
}

type OrderResponse struct {
	OrderID   string       `json:"order_id"`
	UserID    int64        `json:"user_id"`
	EventID   int64        `json:"event_id"`
	TierID    int64        `json:"tier_id"`
	Quantity  int          `json:"quantity"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	PaidAt    *time.Time   `json:"paid_at,omitempty"`
	Tickets   []TicketView `json:"tickets"`
}

func newEventResponse(e *domain.Event, tiers []domain.Tier) EventResponse {
	resp := EventResponse{
		EventID:      e.ID,
		Title:        e.Title,
		SaleStartsAt: e.SaleStarts,
		StartsAt:     e.Starts,
		Tiers:        make([]TierView, 0, len(tiers)),
	}
	for _, t := range tiers {
		resp.Tiers = append(resp.Tiers, TierView{
			TierID:     t.ID,
			Name:       t.Name,
			Capacity:   t.Capacity,
			PriceCents: t.PriceCents,
		})
	}
	return resp
}

func newOrderResponse(o *domain.OrderWithTickets) OrderResponse {
	resp := OrderResponse{
		OrderID:   o.Order.ID.String(),
		UserID:    o.Order.UserID,
		EventID:   o.Order.EventID,
		TierID:    o.Order.TierID,
		Quantity:  o.Order.Qty,
		Status:    string(o.Order.Status),
		CreatedAt: o.Order.CreatedAt,
		PaidAt:    o.Order.PaidAt,
		Tickets:   make([]TicketView, 0, len(o.Tickets)),
	}
	for _, tk := range o.Tickets {
		resp.Tickets = append(resp.Tickets, TicketView{
			TicketID:   tk.ID,
			Code:       tk.Code,
			SeatNumber: tk.SeatNumber,
			Status:     string(tk.Status),
		})
	}
	return resp
}

type CreateEventRequest struct {
	Title        string `json:"title" binding:"required"`
	SaleStartsAt string `json:"sale_starts_at" binding:"required"`
	StartsAt     string `json:"starts_at" binding:"required"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

type CreateTierRequest struct {
	Name       string `json:"name" binding:"required"`
	Capacity   int    `json:"capacity" binding:"required,gt=0"`
	PriceCents int    `json:"price_cents" binding:"required,gte=0"`
}

type CreateTierResponse struct {
	TierID   int64 `json:"tier_id"`
	Capacity int   `json:"capacity"`
}

type PurgeResponse struct {
	Purged int64 `json:"purged"`
}

// ErrorResponse always carries a stable machine-readable code; the optional
// fields give contention failures enough data for a meaningful retry.
type ErrorResponse struct {
	Code      string  `json:"code"`
	Error     string  `json:"error"`
	Available *int64  `json:"available,omitempty"`
	FailedIDs []int64 `json:"failed_ids,omitempty"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ostrovok-lab/gatecheck/internal/domain"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
)

type OrderRepo struct {
	pool  *pgxpool.Pool
	store *Store
	db    DB
}

func (r *OrderRepo) With(db DB) *OrderRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *OrderRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// FinalizeHold converts a hold into a durable order. In one transaction it
// locks the hold row, validates it against the request, creates the order,
// and reassigns every ticket from the hold to the order (held → sold). The
// hold row is deleted, so a hold can never back a second order.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - p: the purchase request.
//   - now: finalization timestamp.
//
// Returns:
//   - *domain.Order: the created order.
//   - error: repository.ErrHoldNotFound if the hold does not exist.
//   - error: repository.ErrHoldExpired if the hold deadline has passed.
//   - error: repository.ErrHoldMismatch if event, tier or qty differ.
func (r *OrderRepo) FinalizeHold(ctx context.Context, p repository.FinalizeParams, now time.Time) (*domain.Order, error) {
	const op = "postgres.OrderRepo.FinalizeHold"

	if r.db != nil {
		o, err := r.finalizeHoldCore(ctx, r.db, p, now)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return o, nil
	}

	var order *domain.Order

	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		var err error
		order, err = r.finalizeHoldCore(ctx, tx, p, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return order, nil
}

// GetOrderWithTickets retrieves an order along with its tickets.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - orderID: unique identifier of the order.
//
// Returns:
//   - *domain.OrderWithTickets: the order with tickets when found.
//   - error: repository.ErrNotFound if the order is not found.
func (r *OrderRepo) GetOrderWithTickets(ctx context.Context, orderID uuid.UUID) (*domain.OrderWithTickets, error) {
	const op = "postgres.OrderRepo.GetOrderWithTickets"

	db := r.handle()

	var o domain.Order
	err := db.QueryRow(ctx,
		`SELECT id, user_id, event_id, tier_id, qty, status, hold_id, created_at, paid_at
       	 FROM orders WHERE id = $1`,
		orderID,
	).Scan(&o.ID, &o.UserID, &o.EventID, &o.TierID, &o.Qty, &o.Status, &o.HoldID, &o.CreatedAt, &o.PaidAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	rows, err := db.Query(ctx,
		`SELECT id, code, event_id, tier_id, seat_number, status, hold_id, order_id,
            user_id, price_cents, purchased_at, refunded_at, used_at
       	 FROM tickets WHERE order_id = $1
       	 ORDER BY seat_number NULLS LAST, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := domain.OrderWithTickets{Order: o}
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(
			&t.ID, &t.Code, &t.EventID, &t.TierID, &t.SeatNumber, &t.Status,
			&t.HoldID, &t.OrderID, &t.UserID, &t.PriceCents,
			&t.PurchasedAt, &t.RefundedAt, &t.UsedAt,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out.Tickets = append(out.Tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out, nil
}

// MarkPaid moves a pending order to paid.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - orderID: the order to mark.
//   - now: payment timestamp.
//
// Returns:
//   - error: repository.ErrNotFound if the order does not exist.
//   - error: repository.ErrOrderState if the order is not pending.
func (r *OrderRepo) MarkPaid(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	const op = "postgres.OrderRepo.MarkPaid"

	db := r.handle()

	ct, err := db.Exec(ctx,
		`UPDATE orders SET status = 'paid', paid_at = $2
      	 WHERE id = $1 AND status = 'pending'`,
		orderID, now,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, r.stateOrMissing(ctx, db, orderID))
	}

	return nil
}

// Refund moves a paid order to refunded and every sold ticket of the order
// to refunded. Used tickets stay used.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - orderID: the order to refund.
//   - now: refund timestamp.
//
// Returns:
//   - error: repository.ErrNotFound if the order does not exist.
//   - error: repository.ErrOrderState if the order is not paid.
func (r *OrderRepo) Refund(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	const op = "postgres.OrderRepo.Refund"

	if r.db != nil {
		if err := r.refundCore(ctx, r.db, orderID, now); err != nil {
			return fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return nil
	}

	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		return r.refundCore(ctx, tx, orderID, now)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// CheckInTicket moves a sold ticket to used.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - ticketID: the ticket being checked in.
//   - now: check-in timestamp.
//
// Returns:
//   - error: repository.ErrNotFound if the ticket does not exist.
//   - error: repository.ErrTicketState if the ticket is not sold.
func (r *OrderRepo) CheckInTicket(ctx context.Context, ticketID int64, now time.Time) error {
	const op = "postgres.OrderRepo.CheckInTicket"

	db := r.handle()

	ct, err := db.Exec(ctx,
		`UPDATE tickets SET status = 'used', used_at = $2
      	 WHERE id = $1 AND status = 'sold'`,
		ticketID, now,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if ct.RowsAffected() == 0 {
		var id int64
		if scanErr := db.QueryRow(ctx, `SELECT id FROM tickets WHERE id = $1`, ticketID).Scan(&id); scanErr != nil {
			return fmt.Errorf("%s:%w", op, translateDBErr(scanErr))
		}
		return fmt.Errorf("%s:%w", op, repository.ErrTicketState)
	}

	return nil
}

func (r *OrderRepo) finalizeHoldCore(ctx context.Context, db DB, p repository.FinalizeParams, now time.Time) (*domain.Order, error) {
	var h domain.Hold

	// The row lock serializes competing finalizations and a concurrent
	// purge of the same hold.
	err := db.QueryRow(ctx,
		`SELECT id, event_id, tier_id, qty, created_at, expires_at
       	 FROM holds WHERE id = $1
       	 FOR UPDATE`,
		p.HoldID,
	).Scan(&h.ID, &h.EventID, &h.TierID, &h.Qty, &h.CreatedAt, &h.ExpiresAt)
	if err != nil {
		if translateDBErr(err) == repository.ErrNotFound {
			return nil, repository.ErrHoldNotFound
		}
		return nil, err
	}

	if !h.ExpiresAt.After(now) {
		return nil, repository.ErrHoldExpired
	}

	if h.EventID != p.EventID || h.TierID != p.TierID || h.Qty != p.Qty {
		return nil, repository.ErrHoldMismatch
	}

	order := domain.Order{
		ID:        uuid.New(),
		UserID:    p.UserID,
		EventID:   p.EventID,
		TierID:    p.TierID,
		Qty:       p.Qty,
		Status:    domain.OrderPending,
		HoldID:    p.HoldID,
		CreatedAt: now,
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO orders(id, user_id, event_id, tier_id, qty, status, hold_id, created_at)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID, order.UserID, order.EventID, order.TierID,
		order.Qty, order.Status, order.HoldID, order.CreatedAt,
	); err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx,
		`UPDATE tickets
        	SET status = 'sold', hold_id = NULL, order_id = $1, user_id = $2, purchased_at = $3
      	 WHERE hold_id = $4`,
		order.ID, order.UserID, now, p.HoldID,
	); err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx, `DELETE FROM holds WHERE id = $1`, p.HoldID); err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *OrderRepo) refundCore(ctx context.Context, db DB, orderID uuid.UUID, now time.Time) error {
	ct, err := db.Exec(ctx,
		`UPDATE orders SET status = 'refunded' WHERE id = $1 AND status = 'paid'`,
		orderID,
	)
	if err != nil {
		return err
	}

	if ct.RowsAffected() == 0 {
		return r.stateOrMissing(ctx, db, orderID)
	}

	if _, err := db.Exec(ctx,
		`UPDATE tickets SET status = 'refunded', refunded_at = $2
      	 WHERE order_id = $1 AND status = 'sold'`,
		orderID, now,
	); err != nil {
		return err
	}

	return nil
}

func (r *OrderRepo) stateOrMissing(ctx context.Context, db DB, orderID uuid.UUID) error {
	var id uuid.UUID
	if err := db.QueryRow(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id); err != nil {
		return translateDBErr(err)
	}
	return repository.ErrOrderState
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ostrovok-lab/gatecheck/internal/domain"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
)

// InventoryRepo answers the advisory "how many" questions about a tier.
// Its reads are ordinary snapshot reads with no locking; they are never the
// gate for a reservation decision. That gate lives in HoldRepo, which
// revalidates under row locks.
type InventoryRepo struct {
	pool  *pgxpool.Pool
	store *Store
	db    DB
}

func (r *InventoryRepo) With(db DB) *InventoryRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *InventoryRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// TierCounts returns the capacity snapshot for a tier. Available is a direct
// count of rows in that status; held only counts tickets whose backing hold
// is still unexpired at now.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID, tierID: the tier to count.
//   - now: reference time for hold expiry.
//
// Returns:
//   - *domain.TierCounts: capacity, available, held, sold-or-later counts.
//   - error: repository.ErrTierNotFound if the tier does not exist.
func (r *InventoryRepo) TierCounts(
	ctx context.Context,
	eventID, tierID int64,
	now time.Time,
) (*domain.TierCounts, error) {
	const op = "postgres.InventoryRepo.TierCounts"

	db := r.handle()

	var tc domain.TierCounts
	err := db.QueryRow(ctx,
		`SELECT capacity FROM tiers WHERE id = $1 AND event_id = $2`,
		tierID, eventID,
	).Scan(&tc.Capacity)
	if err != nil {
		if translateDBErr(err) == repository.ErrNotFound {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrTierNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	err = db.QueryRow(ctx,
		`SELECT
        	COALESCE(SUM(CASE WHEN t.status = 'available' THEN 1 ELSE 0 END), 0),
        	COALESCE(SUM(CASE WHEN t.status = 'held' AND h.expires_at > $3 THEN 1 ELSE 0 END), 0),
        	COALESCE(SUM(CASE WHEN t.status IN ('sold', 'used', 'refunded') THEN 1 ELSE 0 END), 0)
     	 FROM tickets t
     	 LEFT JOIN holds h ON h.id = t.hold_id
     	 WHERE t.event_id = $1 AND t.tier_id = $2`,
		eventID, tierID, now,
	).Scan(&tc.Available, &tc.Held, &tc.Sold)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &tc, nil
}

// LiveHolds lists the unexpired holds against a tier.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID, tierID: the tier to inspect.
//   - now: reference time for hold expiry.
//
// Returns:
//   - []domain.Hold: unexpired holds, oldest first.
func (r *InventoryRepo) LiveHolds(
	ctx context.Context,
	eventID, tierID int64,
	now time.Time,
) ([]domain.Hold, error) {
	const op = "postgres.InventoryRepo.LiveHolds"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, event_id, tier_id, qty, created_at, expires_at
     	 FROM holds
     	 WHERE event_id = $1 AND tier_id = $2 AND expires_at > $3
     	 ORDER BY created_at`,
		eventID, tierID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Hold
	for rows.Next() {
		var h domain.Hold
		if err := rows.Scan(&h.ID, &h.EventID, &h.TierID, &h.Qty, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// GetEvent retrieves an event by its ID.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: unique identifier of the event.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event is not found.
func (r *InventoryRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.InventoryRepo.GetEvent"

	db := r.handle()

	var e domain.Event
	err := db.QueryRow(ctx,
		`SELECT id, title, sale_starts_at, starts_at, created_at
       	 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Title, &e.SaleStarts, &e.Starts, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

// ListTiers lists the tiers of an event.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID: the event whose tiers to list.
//
// Returns:
//   - []domain.Tier: the event's tiers, cheapest first.
func (r *InventoryRepo) ListTiers(ctx context.Context, eventID int64) ([]domain.Tier, error) {
	const op = "postgres.InventoryRepo.ListTiers"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, event_id, name, capacity, price_cents, created_at
     	 FROM tiers
     	 WHERE event_id = $1
     	 ORDER BY price_cents, id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Tier
	for rows.Next() {
		var t domain.Tier
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.PriceCents, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

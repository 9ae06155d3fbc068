package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ostrovok-lab/gatecheck/internal/domain"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
)

type HoldRepo struct {
	pool  *pgxpool.Pool
	store *Store
	db    DB
}

func (r *HoldRepo) With(db DB) *HoldRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *HoldRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// HoldAuto atomically claims qty available tickets of a tier and binds them
// to a fresh hold. Candidate rows are locked with FOR UPDATE SKIP LOCKED, so
// concurrent requesters partition the free pool instead of queueing on it.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID, tierID: the tier to allocate from.
//   - qty: number of tickets to claim; the claim is all-or-nothing.
//   - now: allocation timestamp; the hold expires at now+ttl.
//   - ttl: hold duration.
//
// Returns:
//   - *domain.HoldReceipt: the hold and the claimed ticket IDs.
//   - error: repository.ErrTierNotFound if the tier does not exist.
//   - error: *repository.InsufficientStockError if fewer than qty unlocked
//     available rows exist; the transaction is rolled back with no partial hold.
func (r *HoldRepo) HoldAuto(
	ctx context.Context,
	eventID, tierID int64,
	qty int,
	now time.Time,
	ttl time.Duration,
) (*domain.HoldReceipt, error) {
	const op = "postgres.HoldRepo.HoldAuto"

	if r.db != nil {
		rec, err := r.holdAutoCore(ctx, r.db, eventID, tierID, qty, now, ttl)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return rec, nil
	}

	var rec *domain.HoldReceipt

	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		var err error
		rec, err = r.holdAutoCore(ctx, tx, eventID, tierID, qty, now, ttl)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return rec, nil
}

// HoldManual atomically claims exactly the given ticket IDs for a tier.
// The claim is a conditional bulk update gated on status = available; if any
// requested row was taken first by a concurrent request, the whole claim is
// rolled back and the contested IDs are reported.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID, tierID: the tier the tickets belong to.
//   - ticketIDs: explicit set of tickets to claim.
//   - now: allocation timestamp; the hold expires at now+ttl.
//   - ttl: hold duration.
//
// Returns:
//   - *domain.HoldReceipt: the hold and the claimed ticket IDs.
//   - error: repository.ErrTierNotFound if the tier does not exist.
//   - error: *repository.PartialConflictError naming exactly the IDs that
//     could not be claimed.
func (r *HoldRepo) HoldManual(
	ctx context.Context,
	eventID, tierID int64,
	ticketIDs []int64,
	now time.Time,
	ttl time.Duration,
) (*domain.HoldReceipt, error) {
	const op = "postgres.HoldRepo.HoldManual"

	if r.db != nil {
		rec, err := r.holdManualCore(ctx, r.db, eventID, tierID, ticketIDs, now, ttl)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return rec, nil
	}

	var rec *domain.HoldReceipt

	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		var err error
		rec, err = r.holdManualCore(ctx, tx, eventID, tierID, ticketIDs, now, ttl)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return rec, nil
}

// Release cancels a hold explicitly, returning its tickets to available and
// deleting the hold row.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - holdID: the hold to cancel.
//
// Returns:
//   - error: repository.ErrHoldNotFound if the hold does not exist.
func (r *HoldRepo) Release(ctx context.Context, holdID uuid.UUID) error {
	const op = "postgres.HoldRepo.Release"

	if r.db != nil {
		if err := r.releaseCore(ctx, r.db, holdID); err != nil {
			return fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return nil
	}

	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		return r.releaseCore(ctx, tx, holdID)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// PurgeExpired releases every hold whose deadline has passed: its tickets go
// back to available and the hold row is deleted. Expired holds already locked
// by a concurrent purge or finalization are skipped, which makes the call
// idempotent and safe to run concurrently with allocation.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - now: cutoff; holds with expires_at <= now are purged.
//
// Returns:
//   - int64: the number of holds purged.
func (r *HoldRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "postgres.HoldRepo.PurgeExpired"

	if r.db != nil {
		n, err := purgeExpiredCore(ctx, r.db, now, 0, 0)
		if err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return n, nil
	}

	var purged int64

	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		var err error
		purged, err = purgeExpiredCore(ctx, tx, now, 0, 0)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return purged, nil
}

// TierSale looks up the strategy inputs for a tier.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID, tierID: the tier to look up.
//
// Returns:
//   - *domain.TierSale: the tier's sale-start time.
//   - error: repository.ErrTierNotFound if the tier does not exist.
func (r *HoldRepo) TierSale(ctx context.Context, eventID, tierID int64) (*domain.TierSale, error) {
	const op = "postgres.HoldRepo.TierSale"

	db := r.handle()

	ts := domain.TierSale{EventID: eventID, TierID: tierID}
	err := db.QueryRow(ctx,
		`SELECT e.sale_starts_at
       	 FROM tiers t
       	 JOIN events e ON e.id = t.event_id
      	 WHERE t.id = $1 AND t.event_id = $2`,
		tierID, eventID,
	).Scan(&ts.SaleStarts)
	if err != nil {
		if translateDBErr(err) == repository.ErrNotFound {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrTierNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &ts, nil
}

func (r *HoldRepo) holdAutoCore(
	ctx context.Context,
	db DB,
	eventID, tierID int64,
	qty int,
	now time.Time,
	ttl time.Duration,
) (*domain.HoldReceipt, error) {
	if err := checkTier(ctx, db, eventID, tierID); err != nil {
		return nil, err
	}

	// Lazy purge scoped to this tier: a stale hold only matters at the
	// moment someone else wants its tickets.
	if _, err := purgeExpiredCore(ctx, db, now, eventID, tierID); err != nil {
		return nil, err
	}

	// Stable order keeps allocation deterministic without contention;
	// SKIP LOCKED keeps it non-blocking with contention.
	rows, err := db.Query(ctx,
		`SELECT id FROM tickets
      	 WHERE event_id = $1 AND tier_id = $2 AND status = 'available'
      	 ORDER BY seat_number NULLS LAST, id
      	 LIMIT $3
        	 FOR UPDATE SKIP LOCKED`,
		eventID, tierID, qty,
	)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var ticketIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ticketIDs = append(ticketIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ticketIDs) < qty {
		available, err := availableCount(ctx, db, eventID, tierID)
		if err != nil {
			return nil, err
		}
		return nil, &repository.InsufficientStockError{Requested: qty, Available: available}
	}

	hold, err := insertHold(ctx, db, eventID, tierID, qty, now, ttl)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx,
		`UPDATE tickets SET status = 'held', hold_id = $1 WHERE id = ANY($2)`,
		hold.ID, ticketIDs,
	); err != nil {
		return nil, err
	}

	return &domain.HoldReceipt{Hold: *hold, TicketIDs: ticketIDs, Mode: domain.AllocAuto}, nil
}

func (r *HoldRepo) holdManualCore(
	ctx context.Context,
	db DB,
	eventID, tierID int64,
	ticketIDs []int64,
	now time.Time,
	ttl time.Duration,
) (*domain.HoldReceipt, error) {
	if err := checkTier(ctx, db, eventID, tierID); err != nil {
		return nil, err
	}

	if _, err := purgeExpiredCore(ctx, db, now, eventID, tierID); err != nil {
		return nil, err
	}

	hold, err := insertHold(ctx, db, eventID, tierID, len(ticketIDs), now, ttl)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx,
		`UPDATE tickets SET status = 'held', hold_id = $1
      	 WHERE event_id = $2 AND tier_id = $3
        	AND id = ANY($4) AND status = 'available'
      	 RETURNING id`,
		hold.ID, eventID, tierID, ticketIDs,
	)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	claimed := make(map[int64]bool, len(ticketIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		claimed[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(claimed) != len(ticketIDs) {
		var failed []int64
		for _, id := range ticketIDs {
			if !claimed[id] {
				failed = append(failed, id)
			}
		}
		// Returning an error aborts the transaction, which takes the
		// successfully-claimed subset back with it. Nothing leaks.
		return nil, &repository.PartialConflictError{FailedIDs: failed}
	}

	return &domain.HoldReceipt{Hold: *hold, TicketIDs: ticketIDs, Mode: domain.AllocManual}, nil
}

func (r *HoldRepo) releaseCore(ctx context.Context, db DB, holdID uuid.UUID) error {
	if _, err := db.Exec(ctx,
		`UPDATE tickets SET status = 'available', hold_id = NULL WHERE hold_id = $1`,
		holdID,
	); err != nil {
		return err
	}

	ct, err := db.Exec(ctx, `DELETE FROM holds WHERE id = $1`, holdID)
	if err != nil {
		return err
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrHoldNotFound
	}

	return nil
}

// purgeExpiredCore is shared by the purger and the lazy in-transaction purge.
// eventID/tierID of 0 mean "all tiers".
func purgeExpiredCore(ctx context.Context, db DB, now time.Time, eventID, tierID int64) (int64, error) {
	var rows pgx.Rows
	var err error

	if eventID != 0 {
		rows, err = db.Query(ctx,
			`SELECT id FROM holds
          	 WHERE expires_at <= $1 AND event_id = $2 AND tier_id = $3
          	 FOR UPDATE SKIP LOCKED`,
			now, eventID, tierID,
		)
	} else {
		rows, err = db.Query(ctx,
			`SELECT id FROM holds WHERE expires_at <= $1 FOR UPDATE SKIP LOCKED`,
			now,
		)
	}
	if err != nil {
		return 0, err
	}

	defer rows.Close()

	var expired []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(expired) == 0 {
		return 0, nil
	}

	if _, err := db.Exec(ctx,
		`UPDATE tickets SET status = 'available', hold_id = NULL WHERE hold_id = ANY($1)`,
		expired,
	); err != nil {
		return 0, err
	}

	if _, err := db.Exec(ctx, `DELETE FROM holds WHERE id = ANY($1)`, expired); err != nil {
		return 0, err
	}

	return int64(len(expired)), nil
}

func insertHold(
	ctx context.Context,
	db DB,
	eventID, tierID int64,
	qty int,
	now time.Time,
	ttl time.Duration,
) (*domain.Hold, error) {
	hold := domain.Hold{
		ID:        uuid.New(),
		EventID:   eventID,
		TierID:    tierID,
		Qty:       qty,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO holds(id, event_id, tier_id, qty, created_at, expires_at)
       	 VALUES ($1, $2, $3, $4, $5, $6)`,
		hold.ID, hold.EventID, hold.TierID, hold.Qty, hold.CreatedAt, hold.ExpiresAt,
	); err != nil {
		return nil, err
	}

	return &hold, nil
}

func checkTier(ctx context.Context, db DB, eventID, tierID int64) error {
	var id int64
	err := db.QueryRow(ctx,
		`SELECT id FROM tiers WHERE id = $1 AND event_id = $2`,
		tierID, eventID,
	).Scan(&id)
	if err != nil {
		if translateDBErr(err) == repository.ErrNotFound {
			return repository.ErrTierNotFound
		}
		return err
	}
	return nil
}

func availableCount(ctx context.Context, db DB, eventID, tierID int64) (int64, error) {
	var n int64
	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets
      	 WHERE event_id = $1 AND tier_id = $2 AND status = 'available'`,
		eventID, tierID,
	).Scan(&n)
	return n, err
}

package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ostrovok-lab/gatecheck/internal/domain"
)

type ProvisionRepo struct {
	pool  *pgxpool.Pool
	store *Store
	db    DB
}

func (r *ProvisionRepo) With(db DB) *ProvisionRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ProvisionRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// CreateEvent creates an event record and returns its ID.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - title: event title.
//   - saleStarts: moment ticket sales open; drives the opening-rush window.
//   - starts: moment the event itself begins.
//
// Returns:
//   - int64: the created event ID.
//   - error: repository.ErrConflict on a uniqueness violation.
func (r *ProvisionRepo) CreateEvent(
	ctx context.Context,
	title string,
	saleStarts, starts time.Time,
) (int64, error) {
	const op = "postgres.ProvisionRepo.CreateEvent"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO events(title, sale_starts_at, starts_at)
       	 VALUES ($1, $2, $3)
     	 RETURNING id`,
		title, saleStarts, starts,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// CreateTier creates a tier and provisions exactly capacity ticket rows for
// it in the same transaction, seat numbers 1..capacity, status available,
// price snapshotted from the tier. Capacity is realized as rows once, here;
// afterwards it is only ever counted.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID: the owning event.
//   - name: tier name, e.g. "VIP".
//   - capacity: number of ticket rows to generate.
//   - priceCents: unit price snapshotted onto each ticket.
//
// Returns:
//   - *domain.Tier: the created tier.
//   - error: repository.ErrConflict on a uniqueness violation.
func (r *ProvisionRepo) CreateTier(
	ctx context.Context,
	eventID int64,
	name string,
	capacity, priceCents int,
) (*domain.Tier, error) {
	const op = "postgres.ProvisionRepo.CreateTier"

	if r.db != nil {
		t, err := r.createTierCore(ctx, r.db, eventID, name, capacity, priceCents)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return t, nil
	}

	var tier *domain.Tier

	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		var err error
		tier, err = r.createTierCore(ctx, tx, eventID, name, capacity, priceCents)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tier, nil
}

func (r *ProvisionRepo) createTierCore(
	ctx context.Context,
	db DB,
	eventID int64,
	name string,
	capacity, priceCents int,
) (*domain.Tier, error) {
	var t domain.Tier
	if err := db.QueryRow(ctx,
		`INSERT INTO tiers(event_id, name, capacity, price_cents)
       	 VALUES ($1, $2, $3, $4)
     	 RETURNING id, event_id, name, capacity, price_cents, created_at`,
		eventID, name, capacity, priceCents,
	).Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.PriceCents, &t.CreatedAt); err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	for seat := 1; seat <= capacity; seat++ {
		batch.Queue(
			`INSERT INTO tickets(code, event_id, tier_id, seat_number, status, price_cents)
         	 VALUES ($1, $2, $3, $4, 'available', $5)`,
			ticketCode(t.ID, seat), eventID, t.ID, seat, priceCents,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}

	return &t, nil
}

func ticketCode(tierID int64, seat int) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("TKT-%d-%d-%s", tierID, seat, strings.ToUpper(hex.EncodeToString(b)))
}

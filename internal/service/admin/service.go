package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ostrovok-lab/gatecheck/internal/domain"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
)

// Store is the provisioning backend.
type Store interface {
	CreateEvent(ctx context.Context, title string, saleStarts, starts time.Time) (int64, error)
	CreateTier(ctx context.Context, eventID int64, name string, capacity, priceCents int) (*domain.Tier, error)
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// CreateEvent creates an event record.
//
// Parameters:
//   - ctx: request-scoped context.
//   - title: event title.
//   - saleStarts: moment ticket sales open.
//   - starts: moment the event begins.
//
// Returns:
//   - int64: the created event ID.
//   - error: admin.ErrEventConflict on a uniqueness violation.
func (s *Service) CreateEvent(ctx context.Context, title string, saleStarts, starts time.Time) (int64, error) {
	const op = "service.admin.CreateEvent"

	id, err := s.store.CreateEvent(ctx, title, saleStarts, starts)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return 0, fmt.Errorf("%s:%w", op, ErrEventConflict)
		}

		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return id, nil
}

// CreateTier creates a tier and provisions its ticket inventory: exactly
// capacity rows, all available. Capacity is immutable from here on.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID: the owning event.
//   - name: tier name.
//   - capacity: number of tickets to generate.
//   - priceCents: unit price.
//
// Returns:
//   - *domain.Tier: the created tier.
//   - error: admin.ErrBadCapacity for a non-positive capacity.
//   - error: admin.ErrTierConflict on a uniqueness violation.
func (s *Service) CreateTier(
	ctx context.Context,
	eventID int64,
	name string,
	capacity, priceCents int,
) (*domain.Tier, error) {
	const op = "service.admin.CreateTier"

	if capacity <= 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrBadCapacity)
	}

	tier, err := s.store.CreateTier(ctx, eventID, name, capacity, priceCents)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, ErrTierConflict)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return tier, nil
}

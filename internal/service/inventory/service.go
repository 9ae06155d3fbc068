package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ostrovok-lab/gatecheck/internal/domain"
	redisx "github.com/ostrovok-lab/gatecheck/internal/redis"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
	redisrepo "github.com/ostrovok-lab/gatecheck/internal/repository/redis"
)

// Store answers the capacity questions. All of its reads are advisory:
// they diagnose, they never gate an allocation.
type Store interface {
	TierCounts(ctx context.Context, eventID, tierID int64, now time.Time) (*domain.TierCounts, error)
	LiveHolds(ctx context.Context, eventID, tierID int64, now time.Time) ([]domain.Hold, error)
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	ListTiers(ctx context.Context, eventID int64) ([]domain.Tier, error)
}

// Purger is the same idempotent purge the reservation path uses; running it
// before counting keeps stale holds from inflating the held column.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	InventoryTTL time.Duration
}

type Service struct {
	store  Store
	purger Purger
	cache  *redisrepo.Cache
	cfg    Config
}

func New(store Store, purger Purger, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.InventoryTTL <= 0 {
		cfg.InventoryTTL = 5 * time.Second
	}

	return &Service{
		store:  store,
		purger: purger,
		cache:  cache,
		cfg:    cfg,
	}
}

// Snapshot is the diagnostics view of one tier.
type Snapshot struct {
	Counts domain.TierCounts `json:"counts"`
	Holds  []domain.Hold     `json:"holds"`
}

// TierSnapshot returns capacity, sold, active-hold and available counts for
// a tier plus its live holds, purging expired holds first. Served from a
// short-TTL advisory cache when one is configured.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID, tierID: the tier to inspect.
//
// Returns:
//   - *Snapshot: the tier's current counts and live holds.
//   - error: inventory.ErrTierNotFound if the tier does not exist.
func (s *Service) TierSnapshot(ctx context.Context, eventID, tierID int64) (*Snapshot, error) {
	const op = "service.inventory.TierSnapshot"

	if s.cache == nil {
		snap, err := s.loadSnapshot(ctx, eventID, tierID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return snap, nil
	}

	key := redisx.KeyTierInventory(eventID, tierID)

	snap, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.InventoryTTL,
		func(ctx context.Context) (Snapshot, error) {
			out, err := s.loadSnapshot(ctx, eventID, tierID)
			if err != nil {
				return Snapshot{}, err
			}
			return *out, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &snap, nil
}

// GetEvent retrieves an event with its tiers.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: ID of the event.
//
// Returns:
//   - *domain.Event, []domain.Tier: the event and its tiers.
//   - error: inventory.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, []domain.Tier, error) {
	const op = "service.inventory.GetEvent"

	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}

		return nil, nil, fmt.Errorf("%s:%w", op, err)
	}

	tiers, err := s.store.ListTiers(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, err)
	}

	return event, tiers, nil
}

func (s *Service) loadSnapshot(ctx context.Context, eventID, tierID int64) (*Snapshot, error) {
	now := time.Now()

	// Lazy purge: the diagnostic request is an inventory-touching request.
	if _, err := s.purger.PurgeExpired(ctx, now); err != nil {
		return nil, err
	}

	counts, err := s.store.TierCounts(ctx, eventID, tierID, now)
	if err != nil {
		if errors.Is(err, repository.ErrTierNotFound) {
			return nil, ErrTierNotFound
		}

		return nil, err
	}

	holds, err := s.store.LiveHolds(ctx, eventID, tierID, now)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Counts: *counts, Holds: holds}, nil
}

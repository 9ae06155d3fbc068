package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ostrovok-lab/gatecheck/internal/domain"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
	redisrepo "github.com/ostrovok-lab/gatecheck/internal/repository/redis"
	redisx "github.com/ostrovok-lab/gatecheck/internal/redis"
)

// Store is the transactional allocation backend. Implementations guarantee
// that every mutation happens inside a single transaction holding row locks
// on exactly the rows it touches.
type Store interface {
	HoldAuto(ctx context.Context, eventID, tierID int64, qty int, now time.Time, ttl time.Duration) (*domain.HoldReceipt, error)
	HoldManual(ctx context.Context, eventID, tierID int64, ticketIDs []int64, now time.Time, ttl time.Duration) (*domain.HoldReceipt, error)
	Release(ctx context.Context, holdID uuid.UUID) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	TierSale(ctx context.Context, eventID, tierID int64) (*domain.TierSale, error)
}

// RateSource records a hold attempt and reports how many were seen for the
// key within the trailing window.
type RateSource interface {
	Observe(ctx context.Context, key string) (int64, error)
}

type Config struct {
	HoldTTL    time.Duration
	MaxHoldQty int
	Strategy   StrategyConfig
}

type Service struct {
	store   Store
	rates   RateSource
	cache   *redisrepo.Cache
	pubsub  *redisx.InventoryPubSub
	limiter *redisrepo.SlidingWindow
	cfg     Config
}

func New(
	store Store,
	rates RateSource,
	cache *redisrepo.Cache,
	pubsub *redisx.InventoryPubSub,
	limiter *redisrepo.SlidingWindow,
	cfg Config,
) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 10 * time.Minute
	}

	if cfg.MaxHoldQty <= 0 {
		cfg.MaxHoldQty = 10
	}

	if cfg.Strategy.RushWindow <= 0 {
		cfg.Strategy.RushWindow = 10 * time.Minute
	}

	if cfg.Strategy.RateWindow <= 0 {
		cfg.Strategy.RateWindow = time.Minute
	}

	if cfg.Strategy.RateThreshold <= 0 {
		cfg.Strategy.RateThreshold = 60
	}

	return &Service{
		store:   store,
		rates:   rates,
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		cfg:     cfg,
	}
}

// CreateHoldParams is one hold request. TicketIDs non-empty means the caller
// picked seats; whether that is honored is up to the strategy selector.
type CreateHoldParams struct {
	EventID   int64
	TierID    int64
	Qty       int
	TicketIDs []int64
	RateKey   string
}

// CreateHold reserves tickets for a prospective buyer. The allocation mode
// is decided per request: manual selection is honored only when the strategy
// selector allows it, otherwise the request degrades to automatic assignment
// of the same quantity and the receipt says so.
//
// Parameters:
//   - ctx: request-scoped context.
//   - p: the hold request.
//
// Returns:
//   - *domain.HoldReceipt: hold, assigned ticket IDs and the applied mode.
//   - error: *reservation.InvalidQuantityError for a non-positive or over-max quantity.
//   - error: reservation.ErrTierNotFound if the tier does not exist.
//   - error: *reservation.InsufficientStockError if stock ran out (auto mode).
//   - error: *reservation.PartialConflictError if picked seats were taken (manual mode).
func (s *Service) CreateHold(ctx context.Context, p CreateHoldParams) (*domain.HoldReceipt, error) {
	const op = "service.reservation.CreateHold"

	qty := p.Qty
	if len(p.TicketIDs) > 0 {
		qty = len(p.TicketIDs)
	}

	if qty <= 0 || qty > s.cfg.MaxHoldQty {
		return nil, &InvalidQuantityError{Qty: qty, Max: s.cfg.MaxHoldQty}
	}

	if s.limiter != nil && p.RateKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, p.RateKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s:%w: retry in %s", op, ErrRateLimited, retry)
		}
	}

	now := time.Now()
	mode := s.selectMode(ctx, p.EventID, p.TierID, now)

	var rec *domain.HoldReceipt
	var err error

	if mode == domain.AllocManual && len(p.TicketIDs) > 0 {
		rec, err = s.store.HoldManual(ctx, p.EventID, p.TierID, p.TicketIDs, now, s.cfg.HoldTTL)
	} else {
		rec, err = s.store.HoldAuto(ctx, p.EventID, p.TierID, qty, now, s.cfg.HoldTTL)
	}
	if err != nil {
		var insufficient *repository.InsufficientStockError
		if errors.As(err, &insufficient) {
			return nil, &InsufficientStockError{
				Requested: insufficient.Requested,
				Available: insufficient.Available,
			}
		}

		var partial *repository.PartialConflictError
		if errors.As(err, &partial) {
			return nil, &PartialConflictError{FailedIDs: partial.FailedIDs}
		}

		if errors.Is(err, repository.ErrTierNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrTierNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, p.EventID, p.TierID)

	return rec, nil
}

// ReleaseHold cancels a hold explicitly, before its deadline.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID, tierID: the tier the hold belongs to (for cache invalidation).
//   - holdID: the hold to release.
//
// Returns:
//   - error: reservation.ErrHoldNotFound if the hold does not exist.
func (s *Service) ReleaseHold(ctx context.Context, eventID, tierID int64, holdID uuid.UUID) error {
	const op = "service.reservation.ReleaseHold"

	if err := s.store.Release(ctx, holdID); err != nil {
		if errors.Is(err, repository.ErrHoldNotFound) {
			return fmt.Errorf("%s:%w", op, ErrHoldNotFound)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, eventID, tierID)

	return nil
}

// Purge releases every hold whose deadline has passed. Safe to call from
// any number of requests concurrently; purging an already-purged hold is a
// no-op.
//
// Parameters:
//   - ctx: request-scoped context.
//
// Returns:
//   - int64: the number of holds purged.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	const op = "service.reservation.Purge"

	purged, err := s.store.PurgeExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return purged, nil
}

// selectMode gathers the strategy inputs and applies SelectMode. Any failure
// along the way degrades to AUTO: a degraded-but-safe mode beats an error
// propagating to the caller.
func (s *Service) selectMode(ctx context.Context, eventID, tierID int64, now time.Time) domain.AllocationMode {
	ts, err := s.store.TierSale(ctx, eventID, tierID)
	if err != nil {
		return domain.AllocAuto
	}

	var recent int64
	if s.rates != nil {
		recent, err = s.rates.Observe(ctx, fmt.Sprintf("%d:%d", eventID, tierID))
		if err != nil {
			return domain.AllocAuto
		}
	}

	return SelectMode(now, ts.SaleStarts, recent, s.cfg.Strategy)
}

func (s *Service) invalidate(ctx context.Context, eventID, tierID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateTier(ctx, eventID, tierID)
	}

	if s.pubsub != nil {
		_ = s.pubsub.PublishInventoryChanged(ctx, eventID, tierID)
	}
}

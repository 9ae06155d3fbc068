package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ostrovok-lab/gatecheck/internal/domain"
	redisx "github.com/ostrovok-lab/gatecheck/internal/redis"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
	redisrepo "github.com/ostrovok-lab/gatecheck/internal/repository/redis"
)

// Store is the transactional order backend.
type Store interface {
	FinalizeHold(ctx context.Context, p repository.FinalizeParams, now time.Time) (*domain.Order, error)
	GetOrderWithTickets(ctx context.Context, orderID uuid.UUID) (*domain.OrderWithTickets, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, now time.Time) error
	Refund(ctx context.Context, orderID uuid.UUID, now time.Time) error
	CheckInTicket(ctx context.Context, ticketID int64, now time.Time) error
}

type Service struct {
	store  Store
	cache  *redisrepo.Cache
	pubsub *redisx.InventoryPubSub
}

func New(store Store, cache *redisrepo.Cache, pubsub *redisx.InventoryPubSub) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		pubsub: pubsub,
	}
}

// Finalize converts a hold into an order. The hold must exist, be unexpired,
// and match the request's event, tier and quantity exactly; the three
// failure cases are surfaced distinctly because they mean different things
// to the caller (retry a new hold vs. fix a desynced client).
//
// Parameters:
//   - ctx: request-scoped context.
//   - p: the purchase request.
//
// Returns:
//   - *domain.Order: the created order, status pending.
//   - error: orders.ErrHoldNotFound, orders.ErrHoldExpired or
//     orders.ErrHoldMismatch.
func (s *Service) Finalize(ctx context.Context, p repository.FinalizeParams) (*domain.Order, error) {
	const op = "service.orders.Finalize"

	order, err := s.store.FinalizeHold(ctx, p, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrHoldNotFound):
			return nil, fmt.Errorf("%s:%w", op, ErrHoldNotFound)
		case errors.Is(err, repository.ErrHoldExpired):
			return nil, fmt.Errorf("%s:%w", op, ErrHoldExpired)
		case errors.Is(err, repository.ErrHoldMismatch):
			return nil, fmt.Errorf("%s:%w", op, ErrHoldMismatch)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, order.EventID, order.TierID)

	return order, nil
}

// GetOrder retrieves an order together with its tickets.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: ID of the order.
//
// Returns:
//   - *domain.OrderWithTickets: the order with its tickets.
//   - error: orders.ErrOrderNotFound if the order is not found.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.OrderWithTickets, error) {
	const op = "service.orders.GetOrder"

	order, err := s.store.GetOrderWithTickets(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return order, nil
}

// MarkPaid moves a pending order to paid.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: ID of the order.
//
// Returns:
//   - error: orders.ErrOrderNotFound if the order is not found.
//   - error: orders.ErrOrderState if the order is not pending.
func (s *Service) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	const op = "service.orders.MarkPaid"

	if err := s.store.MarkPaid(ctx, orderID, time.Now()); err != nil {
		return fmt.Errorf("%s:%w", op, s.mapOrderErr(err))
	}

	return nil
}

// Refund moves a paid order to refunded; its sold tickets become refunded.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: ID of the order.
//
// Returns:
//   - error: orders.ErrOrderNotFound if the order is not found.
//   - error: orders.ErrOrderState if the order is not paid.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID) error {
	const op = "service.orders.Refund"

	if err := s.store.Refund(ctx, orderID, time.Now()); err != nil {
		return fmt.Errorf("%s:%w", op, s.mapOrderErr(err))
	}

	return nil
}

// CheckIn moves a sold ticket to used.
//
// Parameters:
//   - ctx: request-scoped context.
//   - ticketID: ID of the ticket being checked in.
//
// Returns:
//   - error: orders.ErrTicketNotFound if the ticket is not found.
//   - error: orders.ErrTicketState if the ticket is not sold.
func (s *Service) CheckIn(ctx context.Context, ticketID int64) error {
	const op = "service.orders.CheckIn"

	if err := s.store.CheckInTicket(ctx, ticketID, time.Now()); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		case errors.Is(err, repository.ErrTicketState):
			return fmt.Errorf("%s:%w", op, ErrTicketState)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (s *Service) mapOrderErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrOrderNotFound
	case errors.Is(err, repository.ErrOrderState):
		return ErrOrderState
	}
	return err
}

func (s *Service) invalidate(ctx context.Context, eventID, tierID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateTier(ctx, eventID, tierID)
	}

	if s.pubsub != nil {
		_ = s.pubsub.PublishInventoryChanged(ctx, eventID, tierID)
	}
}

package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ostrovok-lab/gatecheck/internal/domain"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrderStore keeps one tier's holds and orders in memory, applying the
// same state checks the SQL layer does.
type fakeOrderStore struct {
	holds   map[uuid.UUID]domain.Hold
	orders  map[uuid.UUID]*domain.Order
	tickets map[int64]domain.TicketStatus
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		holds:   make(map[uuid.UUID]domain.Hold),
		orders:  make(map[uuid.UUID]*domain.Order),
		tickets: make(map[int64]domain.TicketStatus),
	}
}

func (s *fakeOrderStore) addHold(h domain.Hold, ticketIDs ...int64) {
	s.holds[h.ID] = h
	for _, id := range ticketIDs {
		s.tickets[id] = domain.TicketHeld
	}
}

func (s *fakeOrderStore) FinalizeHold(_ context.Context, p repository.FinalizeParams, now time.Time) (*domain.Order, error) {
	h, ok := s.holds[p.HoldID]
	if !ok {
		return nil, repository.ErrHoldNotFound
	}
	if !h.ExpiresAt.After(now) {
		return nil, repository.ErrHoldExpired
	}
	if h.EventID != p.EventID || h.TierID != p.TierID || h.Qty != p.Qty {
		return nil, repository.ErrHoldMismatch
	}

	order := &domain.Order{
		ID:        uuid.New(),
		UserID:    p.UserID,
		EventID:   p.EventID,
		TierID:    p.TierID,
		Qty:       p.Qty,
		Status:    domain.OrderPending,
		HoldID:    p.HoldID,
		CreatedAt: now,
	}
	s.orders[order.ID] = order
	delete(s.holds, p.HoldID)
	return order, nil
}

func (s *fakeOrderStore) GetOrderWithTickets(_ context.Context, orderID uuid.UUID) (*domain.OrderWithTickets, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &domain.OrderWithTickets{Order: *o}, nil
}

func (s *fakeOrderStore) MarkPaid(_ context.Context, orderID uuid.UUID, now time.Time) error {
	o, ok := s.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Status != domain.OrderPending {
		return repository.ErrOrderState
	}
	o.Status = domain.OrderPaid
	o.PaidAt = &now
	return nil
}

func (s *fakeOrderStore) Refund(_ context.Context, orderID uuid.UUID, _ time.Time) error {
	o, ok := s.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Status != domain.OrderPaid {
		return repository.ErrOrderState
	}
	o.Status = domain.OrderRefunded
	return nil
}

func (s *fakeOrderStore) CheckInTicket(_ context.Context, ticketID int64, _ time.Time) error {
	st, ok := s.tickets[ticketID]
	if !ok {
		return repository.ErrNotFound
	}
	if st != domain.TicketSold {
		return repository.ErrTicketState
	}
	s.tickets[ticketID] = domain.TicketUsed
	return nil
}

func liveHold(id uuid.UUID) domain.Hold {
	return domain.Hold{
		ID:        id,
		EventID:   1,
		TierID:    2,
		Qty:       2,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
}

func TestFinalize(t *testing.T) {
	holdID := uuid.New()
	store := newFakeOrderStore()
	store.addHold(liveHold(holdID), 11, 12)
	svc := New(store, nil, nil)

	params := repository.FinalizeParams{HoldID: holdID, UserID: 7, EventID: 1, TierID: 2, Qty: 2}

	order, err := svc.Finalize(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Equal(t, holdID, order.HoldID)
	assert.EqualValues(t, 7, order.UserID)

	// The hold is consumed; finalizing it again is a not-found, not a
	// double sale.
	_, err = svc.Finalize(context.Background(), params)
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestFinalize_Failures(t *testing.T) {
	holdID := uuid.New()
	expiredID := uuid.New()

	store := newFakeOrderStore()
	store.addHold(liveHold(holdID))
	expired := liveHold(expiredID)
	expired.ExpiresAt = time.Now().Add(-time.Second)
	store.addHold(expired)

	svc := New(store, nil, nil)

	_, err := svc.Finalize(context.Background(), repository.FinalizeParams{
		HoldID: uuid.New(), UserID: 7, EventID: 1, TierID: 2, Qty: 2,
	})
	assert.ErrorIs(t, err, ErrHoldNotFound)

	_, err = svc.Finalize(context.Background(), repository.FinalizeParams{
		HoldID: expiredID, UserID: 7, EventID: 1, TierID: 2, Qty: 2,
	})
	assert.ErrorIs(t, err, ErrHoldExpired)

	// Wrong quantity, then wrong tier.
	_, err = svc.Finalize(context.Background(), repository.FinalizeParams{
		HoldID: holdID, UserID: 7, EventID: 1, TierID: 2, Qty: 3,
	})
	assert.ErrorIs(t, err, ErrHoldMismatch)

	_, err = svc.Finalize(context.Background(), repository.FinalizeParams{
		HoldID: holdID, UserID: 7, EventID: 1, TierID: 99, Qty: 2,
	})
	assert.ErrorIs(t, err, ErrHoldMismatch)
}

func TestOrderLifecycle(t *testing.T) {
	holdID := uuid.New()
	store := newFakeOrderStore()
	store.addHold(liveHold(holdID))
	svc := New(store, nil, nil)

	order, err := svc.Finalize(context.Background(), repository.FinalizeParams{
		HoldID: holdID, UserID: 7, EventID: 1, TierID: 2, Qty: 2,
	})
	require.NoError(t, err)

	// Refund before payment is a state error.
	assert.ErrorIs(t, svc.Refund(context.Background(), order.ID), ErrOrderState)

	require.NoError(t, svc.MarkPaid(context.Background(), order.ID))
	assert.ErrorIs(t, svc.MarkPaid(context.Background(), order.ID), ErrOrderState)

	got, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Order.Status)
	require.NotNil(t, got.Order.PaidAt)

	require.NoError(t, svc.Refund(context.Background(), order.ID))
	assert.ErrorIs(t, svc.Refund(context.Background(), order.ID), ErrOrderState)

	_, err = svc.GetOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, svc.MarkPaid(context.Background(), uuid.New()), ErrOrderNotFound)
}

func TestCheckIn(t *testing.T) {
	store := newFakeOrderStore()
	store.tickets[21] = domain.TicketSold
	store.tickets[22] = domain.TicketHeld
	svc := New(store, nil, nil)

	require.NoError(t, svc.CheckIn(context.Background(), 21))
	assert.ErrorIs(t, svc.CheckIn(context.Background(), 21), ErrTicketState) // already used
	assert.ErrorIs(t, svc.CheckIn(context.Background(), 22), ErrTicketState)
	assert.ErrorIs(t, svc.CheckIn(context.Background(), 99), ErrTicketNotFound)
}

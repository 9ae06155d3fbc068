package reservation

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ostrovok-lab/gatecheck/internal/domain"
	"github.com/ostrovok-lab/gatecheck/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mimics the transactional allocation backend in memory. The
// mutex plays the part of row locks: every mutation is atomic, so two
// concurrent holds can never claim the same ticket, same as skip-locked
// allocation against real Postgres.
type fakeStore struct {
	mu         sync.Mutex
	saleStarts time.Time
	tierErr    error
	tickets    map[int64]domain.TicketStatus
	holds      map[uuid.UUID]fakeHold

	autoCalls   int
	manualCalls int
}

type fakeHold struct {
	ticketIDs []int64
	expiresAt time.Time
}

func newFakeStore(capacity int, saleStarts time.Time) *fakeStore {
	s := &fakeStore{
		saleStarts: saleStarts,
		tickets:    make(map[int64]domain.TicketStatus, capacity),
		holds:      make(map[uuid.UUID]fakeHold),
	}
	for i := 1; i <= capacity; i++ {
		s.tickets[int64(i)] = domain.TicketAvailable
	}
	return s
}

func (s *fakeStore) HoldAuto(_ context.Context, eventID, tierID int64, qty int, now time.Time, ttl time.Duration) (*domain.HoldReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCalls++

	var free []int64
	for id, st := range s.tickets {
		if st == domain.TicketAvailable {
			free = append(free, id)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i] < free[j] })

	if len(free) < qty {
		return nil, &repository.InsufficientStockError{Requested: qty, Available: int64(len(free))}
	}

	return s.claim(eventID, tierID, free[:qty], now, ttl, domain.AllocAuto), nil
}

func (s *fakeStore) HoldManual(_ context.Context, eventID, tierID int64, ticketIDs []int64, now time.Time, ttl time.Duration) (*domain.HoldReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualCalls++

	var failed []int64
	for _, id := range ticketIDs {
		if s.tickets[id] != domain.TicketAvailable {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return nil, &repository.PartialConflictError{FailedIDs: failed}
	}

	return s.claim(eventID, tierID, ticketIDs, now, ttl, domain.AllocManual), nil
}

func (s *fakeStore) claim(eventID, tierID int64, ids []int64, now time.Time, ttl time.Duration, mode domain.AllocationMode) *domain.HoldReceipt {
	holdID := uuid.New()
	for _, id := range ids {
		s.tickets[id] = domain.TicketHeld
	}
	s.holds[holdID] = fakeHold{ticketIDs: ids, expiresAt: now.Add(ttl)}

	return &domain.HoldReceipt{
		Hold: domain.Hold{
			ID:        holdID,
			EventID:   eventID,
			TierID:    tierID,
			Qty:       len(ids),
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
		TicketIDs: ids,
		Mode:      mode,
	}
}

func (s *fakeStore) Release(_ context.Context, holdID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[holdID]
	if !ok {
		return repository.ErrHoldNotFound
	}
	for _, id := range h.ticketIDs {
		s.tickets[id] = domain.TicketAvailable
	}
	delete(s.holds, holdID)
	return nil
}

func (s *fakeStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, h := range s.holds {
		if h.expiresAt.After(now) {
			continue
		}
		for _, tid := range h.ticketIDs {
			s.tickets[tid] = domain.TicketAvailable
		}
		delete(s.holds, id)
		purged++
	}
	return purged, nil
}

func (s *fakeStore) TierSale(_ context.Context, eventID, tierID int64) (*domain.TierSale, error) {
	if s.tierErr != nil {
		return nil, s.tierErr
	}
	return &domain.TierSale{EventID: eventID, TierID: tierID, SaleStarts: s.saleStarts}, nil
}

func (s *fakeStore) available() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, st := range s.tickets {
		if st == domain.TicketAvailable {
			n++
		}
	}
	return n
}

type fakeRates struct {
	count int64
	err   error
}

func (r *fakeRates) Observe(context.Context, string) (int64, error) {
	return r.count, r.err
}

func newTestService(store *fakeStore, rates RateSource, cfg Config) *Service {
	return New(store, rates, nil, nil, nil, cfg)
}

func TestCreateHold_ContendedAutoAllocation(t *testing.T) {
	// Capacity 10, 100 concurrent single-ticket requests. Exactly 10 must
	// succeed, each with a distinct ticket, and the other 90 must see a
	// typed out-of-stock error.
	const capacity = 10
	const requests = 100

	store := newFakeStore(capacity, time.Now().Add(-time.Hour))
	svc := newTestService(store, nil, Config{})

	var wg sync.WaitGroup
	receipts := make(chan *domain.HoldReceipt, requests)
	failures := make(chan error, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := svc.CreateHold(context.Background(), CreateHoldParams{
				EventID: 1, TierID: 1, Qty: 1,
			})
			if err != nil {
				failures <- err
				return
			}
			receipts <- rec
		}()
	}
	wg.Wait()
	close(receipts)
	close(failures)

	seen := make(map[int64]bool)
	for rec := range receipts {
		require.Len(t, rec.TicketIDs, 1)
		assert.False(t, seen[rec.TicketIDs[0]], "ticket %d granted twice", rec.TicketIDs[0])
		seen[rec.TicketIDs[0]] = true
	}
	assert.Len(t, seen, capacity)

	var insufficient int
	for err := range failures {
		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.EqualValues(t, 0, stockErr.Available)
		insufficient++
	}
	assert.Equal(t, requests-capacity, insufficient)

	assert.Equal(t, 0, store.available())
}

func TestCreateHold_QuantityValidation(t *testing.T) {
	store := newFakeStore(10, time.Now().Add(-time.Hour))
	svc := newTestService(store, nil, Config{MaxHoldQty: 4})

	for _, qty := range []int{0, -1, 5} {
		_, err := svc.CreateHold(context.Background(), CreateHoldParams{EventID: 1, TierID: 1, Qty: qty})

		var invalid *InvalidQuantityError
		require.ErrorAs(t, err, &invalid, "qty=%d", qty)
		assert.Equal(t, 4, invalid.Max)
	}

	// Manual requests are measured by the number of picked seats.
	_, err := svc.CreateHold(context.Background(), CreateHoldParams{
		EventID: 1, TierID: 1, TicketIDs: []int64{1, 2, 3, 4, 5},
	})
	var invalid *InvalidQuantityError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 5, invalid.Qty)
}

func TestCreateHold_ManualConflictLeavesNothingHeld(t *testing.T) {
	saleStarts := time.Now().Add(time.Hour) // sale not started, manual allowed
	store := newFakeStore(10, saleStarts)
	svc := newTestService(store, &fakeRates{count: 0}, Config{})

	first, err := svc.CreateHold(context.Background(), CreateHoldParams{
		EventID: 1, TierID: 1, TicketIDs: []int64{3, 4},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AllocManual, first.Mode)
	assert.Equal(t, []int64{3, 4}, first.TicketIDs)

	// Overlapping pick: the whole request fails and names the contested
	// seats; seats 5 and 6 must remain free.
	_, err = svc.CreateHold(context.Background(), CreateHoldParams{
		EventID: 1, TierID: 1, TicketIDs: []int64{4, 5, 6},
	})
	var partial *PartialConflictError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []int64{4}, partial.FailedIDs)
	assert.Equal(t, 8, store.available())
}

func TestCreateHold_RushWindowForcesAuto(t *testing.T) {
	store := newFakeStore(10, time.Now().Add(-time.Minute)) // sale just started
	svc := newTestService(store, &fakeRates{count: 0}, Config{})

	rec, err := svc.CreateHold(context.Background(), CreateHoldParams{
		EventID: 1, TierID: 1, TicketIDs: []int64{7, 8},
	})
	require.NoError(t, err)

	// Picks are not honored during the rush, but the quantity is.
	assert.Equal(t, domain.AllocAuto, rec.Mode)
	assert.Len(t, rec.TicketIDs, 2)
	assert.Equal(t, 1, store.autoCalls)
	assert.Equal(t, 0, store.manualCalls)
}

func TestCreateHold_HighRateForcesAuto(t *testing.T) {
	store := newFakeStore(10, time.Now().Add(time.Hour))
	svc := newTestService(store, &fakeRates{count: 500}, Config{})

	rec, err := svc.CreateHold(context.Background(), CreateHoldParams{
		EventID: 1, TierID: 1, TicketIDs: []int64{1},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AllocAuto, rec.Mode)
}

func TestCreateHold_StrategyFailsOpenToAuto(t *testing.T) {
	store := newFakeStore(10, time.Now().Add(time.Hour))
	store.tierErr = assert.AnError
	svc := newTestService(store, nil, Config{})

	rec, err := svc.CreateHold(context.Background(), CreateHoldParams{
		EventID: 1, TierID: 1, TicketIDs: []int64{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AllocAuto, rec.Mode)

	// Observe failing degrades the same way.
	store.tierErr = nil
	svc = newTestService(store, &fakeRates{err: assert.AnError}, Config{})

	rec, err = svc.CreateHold(context.Background(), CreateHoldParams{
		EventID: 1, TierID: 1, TicketIDs: []int64{3, 4},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AllocAuto, rec.Mode)
}

func TestPurge_ReleasesExpiredHoldsIdempotently(t *testing.T) {
	store := newFakeStore(10, time.Now().Add(-time.Hour))
	svc := newTestService(store, nil, Config{HoldTTL: time.Nanosecond})

	rec, err := svc.CreateHold(context.Background(), CreateHoldParams{EventID: 1, TierID: 1, Qty: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, store.available())

	time.Sleep(time.Millisecond) // let the nanosecond TTL lapse

	purged, err := svc.Purge(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
	assert.Equal(t, 10, store.available())

	// Second purge finds nothing.
	purged, err = svc.Purge(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, purged)

	// The purged hold is gone for good.
	err = svc.ReleaseHold(context.Background(), 1, 1, rec.Hold.ID)
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestReleaseHold(t *testing.T) {
	store := newFakeStore(10, time.Now().Add(-time.Hour))
	svc := newTestService(store, nil, Config{})

	rec, err := svc.CreateHold(context.Background(), CreateHoldParams{EventID: 1, TierID: 1, Qty: 2})
	require.NoError(t, err)
	assert.Equal(t, 8, store.available())

	require.NoError(t, svc.ReleaseHold(context.Background(), 1, 1, rec.Hold.ID))
	assert.Equal(t, 10, store.available())

	err = svc.ReleaseHold(context.Background(), 1, 1, uuid.New())
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

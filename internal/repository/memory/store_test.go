package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newBus(t *testing.T, s *Store, seatNumbers []string) int64 {
	t.Helper()

	busID, err := s.CreateBusWithLayout(context.Background(), domain.Bus{
		BusNumber:   "BX-100",
		Source:      "Lviv",
		Destination: "Kyiv",
		StartTime:   t0.Add(24 * time.Hour),
	}, []domain.Stop{
		{StopName: "Central", StopTime: t0.Add(24 * time.Hour)},
	}, seatNumbers)
	require.NoError(t, err)

	return busID
}

func holdSeats(t *testing.T, s *Store, busID int64, n int, at time.Time) *domain.Blocking {
	t.Helper()

	free, err := s.FreeSeats(context.Background(), busID, at)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(free), n)

	ids := make([]int64, 0, n)
	for _, seat := range free[:n] {
		ids = append(ids, seat.ID)
	}

	b := &domain.Blocking{
		ID:             uuid.New(),
		BusID:          busID,
		PassengerCount: n,
		Status:         domain.BlockingHeld,
		SeatIDs:        ids,
		CreatedAt:      at,
		ExpiresAt:      at.Add(10 * time.Minute),
	}
	require.NoError(t, s.CreateHeld(context.Background(), b))

	return b
}

func TestCreateHeldClaimsAllOrNothing(t *testing.T) {
	s := NewStore()
	busID := newBus(t, s, []string{"1", "2", "3"})

	b1 := holdSeats(t, s, busID, 2, t0)

	remaining, err := s.FreeSeats(context.Background(), busID, t0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)

	// Overlapping set: one free seat plus one of b1's held seats.
	b2 := &domain.Blocking{
		ID:             uuid.New(),
		BusID:          busID,
		PassengerCount: 2,
		SeatIDs:        []int64{b1.SeatIDs[1], remaining[0].ID},
		CreatedAt:      t0,
		ExpiresAt:      t0.Add(10 * time.Minute),
	}
	err = s.CreateHeld(context.Background(), b2)
	require.ErrorIs(t, err, repository.ErrSeatsUnavailable)

	// The losing claim must not have taken the free seat either.
	free, err := s.FreeSeats(context.Background(), busID, t0)
	require.NoError(t, err)
	assert.Len(t, free, 1)
}

func TestConcurrentClaimsNeverOversubscribe(t *testing.T) {
	s := NewStore()
	const seatCount = 10

	seatNumbers := make([]string, 0, seatCount)
	for i := 0; i < seatCount; i++ {
		seatNumbers = append(seatNumbers, string(rune('A'+i)))
	}
	busID := newBus(t, s, seatNumbers)

	const workers = 50
	var wg sync.WaitGroup
	results := make([]*domain.Blocking, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			free, err := s.FreeSeats(context.Background(), busID, t0)
			if err != nil || len(free) < 2 {
				return
			}

			b := &domain.Blocking{
				ID:             uuid.New(),
				BusID:          busID,
				PassengerCount: 2,
				SeatIDs:        []int64{free[0].ID, free[1].ID},
				CreatedAt:      t0,
				ExpiresAt:      t0.Add(10 * time.Minute),
			}
			if s.CreateHeld(context.Background(), b) == nil {
				results[w] = b
			}
		}(w)
	}
	wg.Wait()

	claimed := make(map[int64]uuid.UUID)
	for _, b := range results {
		if b == nil {
			continue
		}
		for _, seatID := range b.SeatIDs {
			owner, dup := claimed[seatID]
			assert.False(t, dup, "seat %d claimed by both %s and %s", seatID, owner, b.ID)
			claimed[seatID] = b.ID
		}
	}

	counts, err := s.Counts(context.Background(), busID, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(claimed)), counts.Held)
	assert.Equal(t, int64(seatCount)-counts.Held, counts.Free)
}

func TestExpiryFreesSeats(t *testing.T) {
	s := NewStore()
	busID := newBus(t, s, []string{"1", "2", "3"})

	b := holdSeats(t, s, busID, 3, t0)

	free, err := s.FreeSeats(context.Background(), busID, t0)
	require.NoError(t, err)
	assert.Empty(t, free)

	// Past the hold TTL the lazy expiry releases the claims.
	later := b.ExpiresAt.Add(time.Second)
	free, err = s.FreeSeats(context.Background(), busID, later)
	require.NoError(t, err)
	assert.Len(t, free, 3)

	got, err := s.GetBlocking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingExpired, got.Status)
}

func TestConfirmPromotesClaims(t *testing.T) {
	s := NewStore()
	busID := newBus(t, s, []string{"1", "2"})

	b := holdSeats(t, s, busID, 2, t0)

	bookingID := uuid.New()
	bk, err := s.ConfirmBlocking(context.Background(), b.ID, bookingID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, bookingID, bk.ID)
	assert.Equal(t, b.ID, bk.BlockingID)

	// Booked claims never expire.
	counts, err := s.Counts(context.Background(), busID, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Booked)
	assert.Equal(t, int64(0), counts.Free)

	_, err = s.ConfirmBlocking(context.Background(), b.ID, uuid.New(), t0.Add(time.Minute))
	assert.ErrorIs(t, err, repository.ErrAlreadyFinalized)
}

func TestConfirmExpiredReleasesSeats(t *testing.T) {
	s := NewStore()
	busID := newBus(t, s, []string{"1", "2"})

	b := holdSeats(t, s, busID, 2, t0)

	late := b.ExpiresAt.Add(time.Second)
	_, err := s.ConfirmBlocking(context.Background(), b.ID, uuid.New(), late)
	require.ErrorIs(t, err, repository.ErrBlockingExpired)

	got, err := s.GetBlocking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingExpired, got.Status)

	free, err := s.FreeSeats(context.Background(), busID, late)
	require.NoError(t, err)
	assert.Len(t, free, 2)
}

func TestConfirmAfterSweepReportsExpired(t *testing.T) {
	s := NewStore()
	busID := newBus(t, s, []string{"1"})

	b := holdSeats(t, s, busID, 1, t0)

	late := b.ExpiresAt.Add(time.Second)
	n, err := s.ExpireSweep(context.Background(), late)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// The sweep already moved the blocking to expired; confirm and cancel
	// still report the expiry outcome, not a finalization conflict.
	_, err = s.ConfirmBlocking(context.Background(), b.ID, uuid.New(), late)
	assert.ErrorIs(t, err, repository.ErrBlockingExpired)

	err = s.CancelBlocking(context.Background(), b.ID, late)
	assert.ErrorIs(t, err, repository.ErrBlockingExpired)
}

func TestCancelThenReclaim(t *testing.T) {
	s := NewStore()
	busID := newBus(t, s, []string{"1", "2"})

	b := holdSeats(t, s, busID, 2, t0)

	require.NoError(t, s.CancelBlocking(context.Background(), b.ID, t0.Add(time.Minute)))

	got, err := s.GetBlocking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingCancelled, got.Status)

	err = s.CancelBlocking(context.Background(), b.ID, t0.Add(time.Minute))
	assert.ErrorIs(t, err, repository.ErrAlreadyFinalized)

	// Released seats are claimable again immediately.
	b2 := holdSeats(t, s, busID, 2, t0.Add(2*time.Minute))
	assert.ElementsMatch(t, b.SeatIDs, b2.SeatIDs)
}

func TestExpireSweepIdempotent(t *testing.T) {
	s := NewStore()
	busID := newBus(t, s, []string{"1", "2", "3"})

	holdSeats(t, s, busID, 1, t0)
	holdSeats(t, s, busID, 1, t0)
	confirmed := holdSeats(t, s, busID, 1, t0)
	_, err := s.ConfirmBlocking(context.Background(), confirmed.ID, uuid.New(), t0.Add(time.Minute))
	require.NoError(t, err)

	late := t0.Add(time.Hour)

	n, err := s.ExpireSweep(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.ExpireSweep(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	counts, err := s.Counts(context.Background(), busID, late)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Booked)
	assert.Equal(t, int64(2), counts.Free)
}

func TestListBusesFilterSearchOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	mk := func(number, src, dst string, start time.Time) {
		_, err := s.CreateBusWithLayout(ctx, domain.Bus{
			BusNumber: number, Source: src, Destination: dst, StartTime: start,
		}, nil, []string{"1"})
		require.NoError(t, err)
	}

	mk("BX-1", "Lviv", "Kyiv", t0.Add(3*time.Hour))
	mk("BX-2", "Lviv", "Odesa", t0.Add(1*time.Hour))
	mk("NX-9", "Kharkiv", "Kyiv", t0.Add(2*time.Hour))

	out, err := s.ListBuses(ctx, repository.BusFilter{Source: "Lviv"})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = s.ListBuses(ctx, repository.BusFilter{Search: "kyiv"})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = s.ListBuses(ctx, repository.BusFilter{OrderBy: "start_time"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "BX-2", out[0].BusNumber)
	assert.Equal(t, "NX-9", out[1].BusNumber)

	out, err = s.ListBuses(ctx, repository.BusFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "BX-2", out[0].BusNumber)

	// Negative paging values read from the start instead of slicing out of
	// range.
	out, err = s.ListBuses(ctx, repository.BusFilter{Limit: -5, Offset: -1})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestUserStoreConflict(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	id, err := s.CreateUser(ctx, &domain.User{Username: "olena", Email: "o@x.ua"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = s.CreateUser(ctx, &domain.User{Username: "olena"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	u, err := s.UserByUsername(ctx, "olena")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	_, err = s.UserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

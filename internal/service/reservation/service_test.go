package reservation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/clock"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
	"github.com/olekht/bustix-go/internal/repository/memory"
	"github.com/olekht/bustix-go/internal/service/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func stopFilter(busID int64) repository.StopFilter {
	return repository.StopFilter{BusID: busID, Limit: 10}
}

type fixture struct {
	svc    *reservation.Service
	store  *memory.Store
	clk    *clock.Fake
	busID  int64
	stopID int64
}

func newFixture(t *testing.T, seatNumbers []string) *fixture {
	t.Helper()

	store := memory.NewStore()
	clk := clock.NewFake(t0)

	busID, err := store.CreateBusWithLayout(context.Background(), domain.Bus{
		BusNumber:   "BX-100",
		Source:      "Lviv",
		Destination: "Kyiv",
		StartTime:   t0.Add(24 * time.Hour),
	}, []domain.Stop{
		{StopName: "Central", StopTime: t0.Add(24 * time.Hour)},
	}, seatNumbers)
	require.NoError(t, err)

	stops, err := store.ListStops(context.Background(), stopFilter(busID))
	require.NoError(t, err)
	require.Len(t, stops, 1)

	svc := reservation.New(store, store, nil, nil, nil, clk, reservation.Config{
		HoldTTL: 10 * time.Minute,
	})

	return &fixture{svc: svc, store: store, clk: clk, busID: busID, stopID: stops[0].ID}
}

func TestCreateBlockingPicksLowestSeats(t *testing.T) {
	f := newFixture(t, []string{"10A", "2A", "1B", "1A"})

	b, err := f.svc.CreateBlocking(context.Background(), 1, f.busID, 2, f.stopID, "")
	require.NoError(t, err)

	assert.Equal(t, domain.BlockingHeld, b.Status)
	assert.Equal(t, t0.Add(10*time.Minute), b.ExpiresAt)
	require.Len(t, b.SeatIDs, 2)

	// Lowest seat numbers first: 1A and 1B, not 10A.
	free, err := f.svc.FreeSeats(context.Background(), f.busID)
	require.NoError(t, err)
	require.Len(t, free, 2)
	assert.Equal(t, "2A", free[0].SeatNumber)
	assert.Equal(t, "10A", free[1].SeatNumber)
}

func TestCreateBlockingValidation(t *testing.T) {
	f := newFixture(t, []string{"1", "2"})
	ctx := context.Background()

	_, err := f.svc.CreateBlocking(ctx, 1, f.busID, 0, f.stopID, "")
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)

	_, err = f.svc.CreateBlocking(ctx, 1, f.busID+1000, 1, f.stopID, "")
	assert.ErrorIs(t, err, reservation.ErrBusNotFound)

	_, err = f.svc.CreateBlocking(ctx, 1, f.busID, 1, f.stopID+1000, "")
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)

	// A stop on another bus is not a valid pickup point.
	otherBus, err := f.store.CreateBusWithLayout(ctx, domain.Bus{
		BusNumber: "BX-200", Source: "Lviv", Destination: "Odesa", StartTime: t0,
	}, []domain.Stop{{StopName: "Depot", StopTime: t0}}, []string{"1"})
	require.NoError(t, err)
	otherStops, err := f.store.ListStops(ctx, stopFilter(otherBus))
	require.NoError(t, err)

	_, err = f.svc.CreateBlocking(ctx, 1, f.busID, 1, otherStops[0].ID, "")
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)
}

func TestConcurrentBlockingsDoNotShareSeats(t *testing.T) {
	f := newFixture(t, []string{"1", "2", "3"})

	var wg sync.WaitGroup
	results := make([]*domain.Blocking, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.CreateBlocking(
				context.Background(), int64(i+1), f.busID, 2, f.stopID, "",
			)
		}(i)
	}
	wg.Wait()

	// Three seats cannot satisfy two 2-seat requests: exactly one wins.
	var won, lost int
	for i := range results {
		if errs[i] == nil {
			won++
			require.Len(t, results[i].SeatIDs, 2)
		} else {
			lost++
			assert.ErrorIs(t, errs[i], reservation.ErrSeatsUnavailable)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	counts, err := f.svc.Availability(context.Background(), f.busID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Held)
	assert.Equal(t, int64(1), counts.Free)
}

func TestConfirmBeforeExpiry(t *testing.T) {
	f := newFixture(t, []string{"1", "2"})
	ctx := context.Background()

	b, err := f.svc.CreateBlocking(ctx, 1, f.busID, 2, f.stopID, "")
	require.NoError(t, err)

	f.clk.Advance(5 * time.Minute)

	bk, err := f.svc.ConfirmBlocking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, bk.BlockingID)
	assert.NotEqual(t, uuid.Nil, bk.ID)

	got, err := f.svc.GetBlocking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingConfirmed, got.Status)

	// Confirm is not repeatable.
	_, err = f.svc.ConfirmBlocking(ctx, b.ID)
	assert.ErrorIs(t, err, reservation.ErrAlreadyFinalized)

	// Booked seats survive any amount of time.
	f.clk.Advance(48 * time.Hour)
	counts, err := f.svc.Availability(ctx, f.busID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Booked)
}

func TestConfirmAfterExpiry(t *testing.T) {
	f := newFixture(t, []string{"1", "2"})
	ctx := context.Background()

	b, err := f.svc.CreateBlocking(ctx, 1, f.busID, 2, f.stopID, "")
	require.NoError(t, err)

	f.clk.Advance(11 * time.Minute)

	_, err = f.svc.ConfirmBlocking(ctx, b.ID)
	assert.ErrorIs(t, err, reservation.ErrBlockingExpired)

	got, err := f.svc.GetBlocking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingExpired, got.Status)

	free, err := f.svc.FreeSeats(ctx, f.busID)
	require.NoError(t, err)
	assert.Len(t, free, 2)
}

func TestConfirmAfterSweepFailsExpired(t *testing.T) {
	f := newFixture(t, []string{"1"})
	ctx := context.Background()

	b, err := f.svc.CreateBlocking(ctx, 1, f.busID, 1, f.stopID, "")
	require.NoError(t, err)

	f.clk.Advance(11 * time.Minute)

	n, err := f.svc.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// The sweep got there first; confirm and cancel still fail as expired,
	// never as already finalized.
	_, err = f.svc.ConfirmBlocking(ctx, b.ID)
	assert.ErrorIs(t, err, reservation.ErrBlockingExpired)
	assert.NotErrorIs(t, err, reservation.ErrAlreadyFinalized)

	err = f.svc.CancelBlocking(ctx, b.ID)
	assert.ErrorIs(t, err, reservation.ErrBlockingExpired)
}

func TestSeatQueriesUnknownBus(t *testing.T) {
	f := newFixture(t, []string{"1"})
	ctx := context.Background()

	_, err := f.svc.FreeSeats(ctx, f.busID+1000)
	assert.ErrorIs(t, err, reservation.ErrBusNotFound)

	_, err = f.svc.SeatsWithStatus(ctx, f.busID+1000)
	assert.ErrorIs(t, err, reservation.ErrBusNotFound)

	_, err = f.svc.Availability(ctx, f.busID+1000)
	assert.ErrorIs(t, err, reservation.ErrBusNotFound)
}

func TestHeldBlockingReadsExpiredPastTTL(t *testing.T) {
	f := newFixture(t, []string{"1"})
	ctx := context.Background()

	b, err := f.svc.CreateBlocking(ctx, 1, f.busID, 1, f.stopID, "")
	require.NoError(t, err)

	f.clk.Advance(10 * time.Minute)

	// No sweep has run, but the read path already reports expired.
	got, err := f.svc.GetBlocking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingExpired, got.Status)
}

func TestCancelReleasesSeats(t *testing.T) {
	f := newFixture(t, []string{"1", "2"})
	ctx := context.Background()

	b, err := f.svc.CreateBlocking(ctx, 1, f.busID, 2, f.stopID, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelBlocking(ctx, b.ID))

	_, err = f.svc.ConfirmBlocking(ctx, b.ID)
	assert.ErrorIs(t, err, reservation.ErrAlreadyFinalized)

	b2, err := f.svc.CreateBlocking(ctx, 2, f.busID, 2, f.stopID, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, b.SeatIDs, b2.SeatIDs)
}

func TestExpireSweepReleasesOverdueHolds(t *testing.T) {
	f := newFixture(t, []string{"1", "2", "3"})
	ctx := context.Background()

	_, err := f.svc.CreateBlocking(ctx, 1, f.busID, 1, f.stopID, "")
	require.NoError(t, err)
	b2, err := f.svc.CreateBlocking(ctx, 2, f.busID, 1, f.stopID, "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmBlocking(ctx, b2.ID)
	require.NoError(t, err)

	f.clk.Advance(time.Hour)

	n, err := f.svc.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.svc.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	counts, err := f.svc.Availability(ctx, f.busID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Booked)
	assert.Equal(t, int64(2), counts.Free)
}

func TestBlockingNotFound(t *testing.T) {
	f := newFixture(t, []string{"1"})
	ctx := context.Background()

	_, err := f.svc.GetBlocking(ctx, uuid.New())
	assert.ErrorIs(t, err, reservation.ErrBlockingNotFound)

	_, err = f.svc.ConfirmBlocking(ctx, uuid.New())
	assert.ErrorIs(t, err, reservation.ErrBlockingNotFound)

	err = f.svc.CancelBlocking(ctx, uuid.New())
	assert.ErrorIs(t, err, reservation.ErrBlockingNotFound)
}

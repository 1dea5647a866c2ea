package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/clock"
	"github.com/olekht/bustix-go/internal/domain"
	redisx "github.com/olekht/bustix-go/internal/redis"
	"github.com/olekht/bustix-go/internal/repository"
	redisrepo "github.com/olekht/bustix-go/internal/repository/redis"
)

type Config struct {
	// HoldTTL is the fixed hold duration for a new blocking.
	HoldTTL time.Duration
	// ClaimRetries bounds how often a lost claim race is retried against
	// refreshed availability before the request fails as unavailable.
	ClaimRetries int
	// AvailabilityTTL bounds staleness of the cached seat counters.
	AvailabilityTTL time.Duration
}

// Service is the reservation coordinator: it selects a free seat set, claims
// it under the ledger's atomic claim primitive, and drives the blocking
// through held/confirmed/expired/cancelled.
type Service struct {
	store    repository.ReservationStore
	schedule repository.ScheduleStore
	cache    *redisrepo.Cache
	pubsub   *redisx.BusPubSub
	limiter  *redisrepo.SlidingWindowLimiter
	clk      clock.Clock
	cfg      Config
}

func New(
	store repository.ReservationStore,
	schedule repository.ScheduleStore,
	cache *redisrepo.Cache,
	pubsub *redisx.BusPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	clk clock.Clock,
	cfg Config,
) *Service {
	if cfg.HoldTTL < time.Minute {
		cfg.HoldTTL = 10 * time.Minute
	}

	if cfg.HoldTTL > 30*time.Minute {
		cfg.HoldTTL = 30 * time.Minute
	}

	if cfg.ClaimRetries <= 0 {
		cfg.ClaimRetries = 3
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	if clk == nil {
		clk = clock.System()
	}

	return &Service{
		store:    store,
		schedule: schedule,
		cache:    cache,
		pubsub:   pubsub,
		limiter:  limiter,
		clk:      clk,
		cfg:      cfg,
	}
}

// CreateBlocking claims passengerCount free seats on the bus and holds them
// until the fixed hold TTL elapses.
//
// Returns:
//   - *domain.Blocking: the held blocking with its assigned seats.
//   - error: reservation.ErrInvalidRequest for a bad passenger count or a
//     pickup point that does not belong to the bus.
//   - error: reservation.ErrBusNotFound if the bus is unknown.
//   - error: reservation.ErrSeatsUnavailable if no seat set could be claimed
//     after the bounded retries.
func (s *Service) CreateBlocking(
	ctx context.Context,
	userID, busID int64,
	passengerCount int,
	pickupStopID int64,
	rlKey string,
) (*domain.Blocking, error) {
	const op = "service.reservation.CreateBlocking"

	if passengerCount < 1 {
		return nil, fmt.Errorf("%s: passenger count must be at least 1: %w", op, ErrInvalidRequest)
	}

	if _, err := s.schedule.GetBus(ctx, busID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	stop, err := s.schedule.GetStop(ctx, pickupStopID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: unknown pickup point: %w", op, ErrInvalidRequest)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if stop.BusID != busID {
		return nil, fmt.Errorf("%s: pickup point does not belong to bus: %w", op, ErrInvalidRequest)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: retry in %s: %w", op, retry, ErrRateLimited)
		}
	}

	// A lost race shrinks the refreshed free set, so the loop terminates
	// either by claiming a disjoint set or by running out of seats.
	for attempt := 0; attempt < s.cfg.ClaimRetries; attempt++ {
		now := s.clk.Now()

		free, err := s.store.FreeSeats(ctx, busID, now)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		if len(free) < passengerCount {
			return nil, fmt.Errorf("%s:%w", op, ErrSeatsUnavailable)
		}

		b := &domain.Blocking{
			ID:             uuid.New(),
			BusID:          busID,
			UserID:         userID,
			PassengerCount: passengerCount,
			PickupStopID:   pickupStopID,
			Status:         domain.BlockingHeld,
			SeatIDs:        pickSeats(free, passengerCount),
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.cfg.HoldTTL),
		}

		err = s.store.CreateHeld(ctx, b)
		if err == nil {
			s.invalidate(ctx, busID)
			return b, nil
		}

		if errors.Is(err, repository.ErrSeatsUnavailable) || errors.Is(err, repository.ErrConflict) {
			continue
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return nil, fmt.Errorf("%s:%w", op, ErrSeatsUnavailable)
}

// ConfirmBlocking finalizes a held blocking into a booking. This is the only
// path that creates bookings.
//
// Returns:
//   - *domain.Booking: the appended booking.
//   - error: reservation.ErrBlockingNotFound, reservation.ErrBlockingExpired
//     (the expiry transition and seat release have already happened), or
//     reservation.ErrAlreadyFinalized.
func (s *Service) ConfirmBlocking(ctx context.Context, blockingID uuid.UUID) (*domain.Booking, error) {
	const op = "service.reservation.ConfirmBlocking"

	b, err := s.store.GetBlocking(ctx, blockingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBlockingNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	booking, err := s.store.ConfirmBlocking(ctx, blockingID, uuid.New(), s.clk.Now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%s:%w", op, ErrBlockingNotFound)
		case errors.Is(err, repository.ErrBlockingExpired):
			s.invalidate(ctx, b.BusID)
			return nil, fmt.Errorf("%s:%w", op, ErrBlockingExpired)
		case errors.Is(err, repository.ErrAlreadyFinalized), errors.Is(err, repository.ErrNotHeld):
			return nil, fmt.Errorf("%s:%w", op, ErrAlreadyFinalized)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, b.BusID)

	return booking, nil
}

// CancelBlocking releases a held blocking's seats and finalizes it as
// cancelled.
func (s *Service) CancelBlocking(ctx context.Context, blockingID uuid.UUID) error {
	const op = "service.reservation.CancelBlocking"

	b, err := s.store.GetBlocking(ctx, blockingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBlockingNotFound)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.store.CancelBlocking(ctx, blockingID, s.clk.Now()); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("%s:%w", op, ErrBlockingNotFound)
		case errors.Is(err, repository.ErrBlockingExpired):
			s.invalidate(ctx, b.BusID)
			return fmt.Errorf("%s:%w", op, ErrBlockingExpired)
		case errors.Is(err, repository.ErrAlreadyFinalized):
			return fmt.Errorf("%s:%w", op, ErrAlreadyFinalized)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, b.BusID)

	return nil
}

// GetBlocking reports the blocking with its effective status: a held blocking
// past expiry reads as expired even before a sweep has caught it.
func (s *Service) GetBlocking(ctx context.Context, blockingID uuid.UUID) (*domain.Blocking, error) {
	const op = "service.reservation.GetBlocking"

	b, err := s.store.GetBlocking(ctx, blockingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBlockingNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if b.Status == domain.BlockingHeld && !b.ExpiresAt.After(s.clk.Now()) {
		b.Status = domain.BlockingExpired
	}

	return b, nil
}

// ExpireSweep releases every overdue hold. Idempotent; run periodically by
// the background worker.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	const op = "service.reservation.ExpireSweep"

	expired, err := s.store.ExpireSweep(ctx, s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return expired, nil
}

// FreeSeats returns the currently claimable seats in selection order.
func (s *Service) FreeSeats(ctx context.Context, busID int64) ([]domain.Seat, error) {
	const op = "service.reservation.FreeSeats"

	seats, err := s.store.FreeSeats(ctx, busID, s.clk.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	domain.SortSeats(seats)

	return seats, nil
}

func (s *Service) SeatsWithStatus(ctx context.Context, busID int64) ([]domain.SeatWithStatus, error) {
	const op = "service.reservation.SeatsWithStatus"

	seats, err := s.store.SeatsWithStatus(ctx, busID, s.clk.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return seats, nil
}

// Availability returns the seat counters for a bus, cached briefly when a
// cache is configured.
func (s *Service) Availability(ctx context.Context, busID int64) (*domain.BusCounts, error) {
	const op = "service.reservation.Availability"

	load := func(ctx context.Context) (domain.BusCounts, error) {
		c, err := s.store.Counts(ctx, busID, s.clk.Now())
		if err != nil {
			return domain.BusCounts{}, err
		}
		return *c, nil
	}

	if s.cache == nil {
		c, err := load(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
			}
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return &c, nil
	}

	c, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisx.KeyBusAvailability(busID),
		s.cfg.AvailabilityTTL,
		load,
	)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &c, nil
}

// pickSeats applies the deterministic selection policy: lowest seat numbers
// first. The free slice arrives already sorted by the ledger.
func pickSeats(free []domain.Seat, n int) []int64 {
	domain.SortSeats(free)

	ids := make([]int64, 0, n)
	for _, seat := range free[:n] {
		ids = append(ids, seat.ID)
	}

	return ids
}

// invalidate drops the cached counters and seat map for the bus and notifies
// other instances. Runs only after the owning transaction has committed.
func (s *Service) invalidate(ctx context.Context, busID int64) {
	if s.cache != nil {
		_ = s.cache.Del(ctx,
			redisx.KeyBusAvailability(busID),
			redisx.KeyBusSeatMap(busID),
		)
	}

	if s.pubsub != nil {
		_ = s.pubsub.PublishBusChanged(ctx, busID)
	}
}

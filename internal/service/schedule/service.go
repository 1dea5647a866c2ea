package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
)

type Config struct {
	DefaultPage int
	MaxPage     int
}

// Service is the schedule store read path plus the single write path: a bus
// is created together with its stops and seat layout and is immutable after
// that.
type Service struct {
	store repository.ScheduleStore
	cfg   Config
}

func New(store repository.ScheduleStore, cfg Config) *Service {
	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 100
	}

	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 500
	}

	return &Service{store: store, cfg: cfg}
}

func (s *Service) CreateBus(
	ctx context.Context,
	bus domain.Bus,
	stops []domain.Stop,
	seatNumbers []string,
) (int64, error) {
	const op = "service.schedule.CreateBus"

	if len(seatNumbers) == 0 {
		return 0, fmt.Errorf("%s: bus needs at least one seat: %w", op, ErrInvalidLayout)
	}

	seen := make(map[string]struct{}, len(seatNumbers))
	for _, sn := range seatNumbers {
		if sn == "" {
			return 0, fmt.Errorf("%s: empty seat number: %w", op, ErrInvalidLayout)
		}
		if _, dup := seen[sn]; dup {
			return 0, fmt.Errorf("%s: duplicate seat number %q: %w", op, sn, ErrInvalidLayout)
		}
		seen[sn] = struct{}{}
	}

	id, err := s.store.CreateBusWithLayout(ctx, bus, stops, seatNumbers)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return 0, fmt.Errorf("%s:%w", op, ErrBusConflict)
		}

		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return id, nil
}

func (s *Service) GetBus(ctx context.Context, id int64) (*domain.Bus, error) {
	const op = "service.schedule.GetBus"

	b, err := s.store.GetBus(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

func (s *Service) ListBuses(ctx context.Context, f repository.BusFilter) ([]domain.Bus, error) {
	const op = "service.schedule.ListBuses"

	f.Limit = s.clampPage(f.Limit)
	f.Offset = clampOffset(f.Offset)

	buses, err := s.store.ListBuses(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return buses, nil
}

func (s *Service) ListStops(ctx context.Context, f repository.StopFilter) ([]domain.Stop, error) {
	const op = "service.schedule.ListStops"

	if _, err := s.store.GetBus(ctx, f.BusID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBusNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	f.Limit = s.clampPage(f.Limit)
	f.Offset = clampOffset(f.Offset)

	stops, err := s.store.ListStops(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return stops, nil
}

func (s *Service) clampPage(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultPage
	}

	if limit > s.cfg.MaxPage {
		return s.cfg.MaxPage
	}

	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

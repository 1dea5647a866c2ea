package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
)

// Service is the booking ledger read path. Bookings are append-only and come
// into existence only when a blocking is confirmed.
type Service struct {
	store repository.BookingStore
}

func New(store repository.BookingStore) *Service {
	return &Service{store: store}
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "service.booking.GetBooking"

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrBookingNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (s *Service) ListBookings(ctx context.Context, f repository.BookingFilter) ([]domain.Booking, error) {
	const op = "service.booking.ListBookings"

	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	out, err := s.store.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/domain"
)

// BusFilter mirrors the list-query parameters of the bus endpoints: field
// equality filters, substring search over bus_number/source/destination and
// start_time ordering.
type BusFilter struct {
	Source      string
	Destination string
	Search      string
	OrderBy     string // "start_time" or empty for id order
	Limit       int
	Offset      int
}

type StopFilter struct {
	BusID  int64
	Search string
	Limit  int
	Offset int
}

type BookingFilter struct {
	BlockingID uuid.UUID
	Limit      int
	Offset     int
}

// ScheduleStore is the read-mostly reference data: buses, stops, seat layout.
type ScheduleStore interface {
	CreateBusWithLayout(ctx context.Context, bus domain.Bus, stops []domain.Stop, seatNumbers []string) (int64, error)
	GetBus(ctx context.Context, id int64) (*domain.Bus, error)
	ListBuses(ctx context.Context, f BusFilter) ([]domain.Bus, error)
	GetStop(ctx context.Context, id int64) (*domain.Stop, error)
	ListStops(ctx context.Context, f StopFilter) ([]domain.Stop, error)
}

// ReservationStore is the availability ledger plus the blocking state machine.
// Every mutation is all-or-nothing: on error the ledger is observably in its
// pre-call state.
type ReservationStore interface {
	// FreeSeats returns seats with no active claim at the given instant,
	// lazily expiring overdue holds for the bus as part of the query.
	FreeSeats(ctx context.Context, busID int64, at time.Time) ([]domain.Seat, error)

	SeatsWithStatus(ctx context.Context, busID int64, at time.Time) ([]domain.SeatWithStatus, error)
	Counts(ctx context.Context, busID int64, at time.Time) (*domain.BusCounts, error)

	// CreateHeld atomically claims b.SeatIDs and persists the blocking in
	// held status. Returns ErrSeatsUnavailable if any seat has an active
	// claim, without claiming anything.
	CreateHeld(ctx context.Context, b *domain.Blocking) error

	GetBlocking(ctx context.Context, id uuid.UUID) (*domain.Blocking, error)

	// ConfirmBlocking promotes the held claims to a permanent booking claim
	// and appends the booking, in one atomic step. Returns ErrNotFound,
	// ErrAlreadyFinalized, or ErrBlockingExpired (after performing the
	// expiry transition and releasing the seats).
	ConfirmBlocking(ctx context.Context, blockingID, bookingID uuid.UUID, now time.Time) (*domain.Booking, error)

	CancelBlocking(ctx context.Context, blockingID uuid.UUID, now time.Time) error

	// ExpireSweep transitions every overdue held blocking to expired and
	// releases its seats. Idempotent. Returns the number of blockings
	// expired by this call.
	ExpireSweep(ctx context.Context, now time.Time) (int64, error)
}

// BookingStore is the append-only booking ledger read path. Bookings are
// created only through ReservationStore.ConfirmBlocking.
type BookingStore interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]domain.Booking, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) (int64, error)
	UserByUsername(ctx context.Context, username string) (*domain.User, error)
}

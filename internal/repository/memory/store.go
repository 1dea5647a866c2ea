// Package memory is an in-process implementation of the repository contracts.
// It backs local development and the deterministic reservation tests. One
// mutex guards all ledger state, which gives every claim the exclusive
// section the availability invariant requires: a claim either sees all of its
// seats free and takes them, or takes nothing.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
)

type claim struct {
	blockingID uuid.UUID
	bookingID  uuid.UUID // Nil while held
	expiresAt  time.Time // zero once booked
}

func (c claim) active(at time.Time) bool {
	return c.bookingID != uuid.Nil || c.expiresAt.After(at)
}

type Store struct {
	mu sync.Mutex

	nextID    int64
	buses     map[int64]domain.Bus
	stops     map[int64]domain.Stop
	seats     map[int64]domain.Seat
	busSeats  map[int64][]int64 // busID -> seat ids, insertion order
	busStops  map[int64][]int64
	claims    map[int64]map[int64]claim // busID -> seatID -> claim
	blockings map[uuid.UUID]*domain.Blocking
	bookings  map[uuid.UUID]domain.Booking
	users     map[string]domain.User
}

func NewStore() *Store {
	return &Store{
		buses:     make(map[int64]domain.Bus),
		stops:     make(map[int64]domain.Stop),
		seats:     make(map[int64]domain.Seat),
		busSeats:  make(map[int64][]int64),
		busStops:  make(map[int64][]int64),
		claims:    make(map[int64]map[int64]claim),
		blockings: make(map[uuid.UUID]*domain.Blocking),
		bookings:  make(map[uuid.UUID]domain.Booking),
		users:     make(map[string]domain.User),
	}
}

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// expireBusLocked drops overdue held claims for one bus and marks their
// blockings expired. Mirrors the lazy expiry the postgres driver runs at the
// start of claim and free-seat transactions.
func (s *Store) expireBusLocked(busID int64, now time.Time) {
	for seatID, c := range s.claims[busID] {
		if c.bookingID == uuid.Nil && !c.expiresAt.After(now) {
			delete(s.claims[busID], seatID)
			if b, ok := s.blockings[c.blockingID]; ok && b.Status == domain.BlockingHeld {
				b.Status = domain.BlockingExpired
			}
		}
	}
}

// --- ScheduleStore ---

func (s *Store) CreateBusWithLayout(
	_ context.Context,
	bus domain.Bus,
	stops []domain.Stop,
	seatNumbers []string,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bus.ID = s.nextIDLocked()
	s.buses[bus.ID] = bus
	s.claims[bus.ID] = make(map[int64]claim)

	for _, st := range stops {
		st.ID = s.nextIDLocked()
		st.BusID = bus.ID
		s.stops[st.ID] = st
		s.busStops[bus.ID] = append(s.busStops[bus.ID], st.ID)
	}

	for _, sn := range seatNumbers {
		seat := domain.Seat{ID: s.nextIDLocked(), BusID: bus.ID, SeatNumber: sn}
		s.seats[seat.ID] = seat
		s.busSeats[bus.ID] = append(s.busSeats[bus.ID], seat.ID)
	}

	return bus.ID, nil
}

func (s *Store) GetBus(_ context.Context, id int64) (*domain.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	return &b, nil
}

func (s *Store) ListBuses(_ context.Context, f repository.BusFilter) ([]domain.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Bus
	for _, b := range s.buses {
		if f.Source != "" && b.Source != f.Source {
			continue
		}
		if f.Destination != "" && b.Destination != f.Destination {
			continue
		}
		if f.Search != "" && !matchesBus(b, f.Search) {
			continue
		}
		out = append(out, b)
	}

	if f.OrderBy == "start_time" {
		sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}

	return page(out, f.Limit, f.Offset), nil
}

func matchesBus(b domain.Bus, search string) bool {
	search = strings.ToLower(search)
	return strings.Contains(strings.ToLower(b.BusNumber), search) ||
		strings.Contains(strings.ToLower(b.Source), search) ||
		strings.Contains(strings.ToLower(b.Destination), search)
}

func (s *Store) GetStop(_ context.Context, id int64) (*domain.Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stops[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	return &st, nil
}

func (s *Store) ListStops(_ context.Context, f repository.StopFilter) ([]domain.Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Stop
	for _, id := range s.busStops[f.BusID] {
		st := s.stops[id]
		if f.Search != "" && !strings.Contains(strings.ToLower(st.StopName), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StopTime.Before(out[j].StopTime) })

	return page(out, f.Limit, f.Offset), nil
}

// --- ReservationStore ---

func (s *Store) FreeSeats(_ context.Context, busID int64, at time.Time) ([]domain.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buses[busID]; !ok {
		return nil, repository.ErrNotFound
	}

	s.expireBusLocked(busID, at)

	var out []domain.Seat
	for _, seatID := range s.busSeats[busID] {
		if _, taken := s.claims[busID][seatID]; !taken {
			out = append(out, s.seats[seatID])
		}
	}

	domain.SortSeats(out)

	return out, nil
}

func (s *Store) SeatsWithStatus(_ context.Context, busID int64, at time.Time) ([]domain.SeatWithStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buses[busID]; !ok {
		return nil, repository.ErrNotFound
	}

	var out []domain.SeatWithStatus
	for _, seatID := range s.busSeats[busID] {
		c, taken := s.claims[busID][seatID]
		out = append(out, domain.SeatWithStatus{
			Seat:      s.seats[seatID],
			Available: !taken || !c.active(at),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SeatNumber < out[j].SeatNumber })

	return out, nil
}

func (s *Store) Counts(_ context.Context, busID int64, at time.Time) (*domain.BusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buses[busID]; !ok {
		return nil, repository.ErrNotFound
	}

	var bc domain.BusCounts
	bc.Total = int64(len(s.busSeats[busID]))

	for _, seatID := range s.busSeats[busID] {
		c, taken := s.claims[busID][seatID]
		switch {
		case taken && c.bookingID != uuid.Nil:
			bc.Booked++
		case taken && c.expiresAt.After(at):
			bc.Held++
		}
	}

	bc.Free = bc.Total - bc.Booked - bc.Held

	return &bc, nil
}

func (s *Store) CreateHeld(_ context.Context, b *domain.Blocking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buses[b.BusID]; !ok {
		return repository.ErrNotFound
	}

	s.expireBusLocked(b.BusID, b.CreatedAt)

	for _, seatID := range b.SeatIDs {
		if _, taken := s.claims[b.BusID][seatID]; taken {
			return repository.ErrSeatsUnavailable
		}
	}

	for _, seatID := range b.SeatIDs {
		s.claims[b.BusID][seatID] = claim{blockingID: b.ID, expiresAt: b.ExpiresAt}
	}

	cp := *b
	cp.SeatIDs = append([]int64(nil), b.SeatIDs...)
	cp.Status = domain.BlockingHeld
	s.blockings[b.ID] = &cp

	return nil
}

func (s *Store) GetBlocking(_ context.Context, id uuid.UUID) (*domain.Blocking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blockings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	cp := *b
	cp.SeatIDs = append([]int64(nil), b.SeatIDs...)

	return &cp, nil
}

func (s *Store) ConfirmBlocking(_ context.Context, blockingID, bookingID uuid.UUID, now time.Time) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blockings[blockingID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	// A sweep or lazy expiry may have finalized the blocking as expired
	// already; that is still the expiry outcome, not a finalization conflict.
	if b.Status == domain.BlockingExpired {
		return nil, repository.ErrBlockingExpired
	}

	if b.Status.Terminal() {
		return nil, repository.ErrAlreadyFinalized
	}

	if !b.ExpiresAt.After(now) {
		s.releaseLocked(b)
		b.Status = domain.BlockingExpired
		return nil, repository.ErrBlockingExpired
	}

	for _, seatID := range b.SeatIDs {
		c, taken := s.claims[b.BusID][seatID]
		if !taken || c.blockingID != blockingID || c.bookingID != uuid.Nil {
			return nil, repository.ErrNotHeld
		}
	}

	for _, seatID := range b.SeatIDs {
		s.claims[b.BusID][seatID] = claim{blockingID: blockingID, bookingID: bookingID}
	}

	b.Status = domain.BlockingConfirmed

	bk := domain.Booking{ID: bookingID, BlockingID: blockingID, CreatedAt: now}
	s.bookings[bookingID] = bk

	return &bk, nil
}

func (s *Store) CancelBlocking(_ context.Context, blockingID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blockings[blockingID]
	if !ok {
		return repository.ErrNotFound
	}

	if b.Status == domain.BlockingExpired {
		return repository.ErrBlockingExpired
	}

	if b.Status.Terminal() {
		return repository.ErrAlreadyFinalized
	}

	s.releaseLocked(b)

	if !b.ExpiresAt.After(now) {
		b.Status = domain.BlockingExpired
		return repository.ErrBlockingExpired
	}

	b.Status = domain.BlockingCancelled

	return nil
}

func (s *Store) ExpireSweep(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for _, b := range s.blockings {
		if b.Status == domain.BlockingHeld && !b.ExpiresAt.After(now) {
			s.releaseLocked(b)
			b.Status = domain.BlockingExpired
			expired++
		}
	}

	return expired, nil
}

// releaseLocked frees the blocking's held claims. Booked claims stay.
func (s *Store) releaseLocked(b *domain.Blocking) {
	for _, seatID := range b.SeatIDs {
		c, taken := s.claims[b.BusID][seatID]
		if taken && c.blockingID == b.ID && c.bookingID == uuid.Nil {
			delete(s.claims[b.BusID], seatID)
		}
	}
}

// --- BookingStore ---

func (s *Store) GetBooking(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	return &b, nil
}

func (s *Store) ListBookings(_ context.Context, f repository.BookingFilter) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Booking
	for _, b := range s.bookings {
		if f.BlockingID != uuid.Nil && b.BlockingID != f.BlockingID {
			continue
		}
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return page(out, f.Limit, f.Offset), nil
}

// --- UserStore ---

func (s *Store) CreateUser(_ context.Context, u *domain.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Username]; exists {
		return 0, repository.ErrConflict
	}

	cp := *u
	cp.ID = s.nextIDLocked()
	s.users[u.Username] = cp

	return cp.ID, nil
}

func (s *Store) UserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}

	return &u, nil
}

func page[T any](in []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

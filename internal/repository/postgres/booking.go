package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
)

// BookingRepo is the read path of the append-only booking ledger. Rows are
// written only by ReservationRepo.ConfirmBlocking.
type BookingRepo struct {
	store *Store
	db    DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.store.pool
}

func (r *BookingRepo) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetBooking"

	db := r.handle()

	var b domain.Booking
	err := db.QueryRow(ctx,
		`SELECT id, blocking_id, created_at
       	 FROM bookings WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.BlockingID, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &b, nil
}

func (r *BookingRepo) ListBookings(ctx context.Context, f repository.BookingFilter) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListBookings"

	db := r.handle()

	q := `SELECT id, blocking_id, created_at FROM bookings`
	var args []any

	if f.BlockingID != uuid.Nil {
		args = append(args, f.BlockingID)
		q += " WHERE blocking_id = $1"
	}

	q += " ORDER BY created_at"

	args = append(args, f.Limit)
	q += " LIMIT $" + strconv.Itoa(len(args))
	args = append(args, f.Offset)
	q += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.BlockingID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

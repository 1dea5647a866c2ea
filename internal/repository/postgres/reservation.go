package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
)

// ReservationRepo owns the availability ledger (seat_claims) and the blocking
// state machine. A held claim has booking_id NULL and expires_at set; a booked
// claim has booking_id set and expires_at NULL; a free seat has no row. The
// primary key on (bus_id, seat_id) is what makes a claim exclusive.
type ReservationRepo struct {
	store *Store
	db    DB
}

func (r *ReservationRepo) With(db DB) *ReservationRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ReservationRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.store.pool
}

// inTx runs fn in the repo's bound transaction if there is one, otherwise in
// its own serializable transaction.
func (r *ReservationRepo) inTx(ctx context.Context, fn func(ctx context.Context, db DB) error) error {
	if r.db != nil {
		return fn(ctx, r.db)
	}
	return r.store.RunTx(ctx, nil, fn)
}

// FreeSeats returns seats with no active claim, after lazily releasing
// overdue holds for the bus.
func (r *ReservationRepo) FreeSeats(ctx context.Context, busID int64, at time.Time) ([]domain.Seat, error) {
	const op = "postgres.ReservationRepo.FreeSeats"

	var out []domain.Seat

	err := r.inTx(ctx, func(ctx context.Context, db DB) error {
		if err := busExistsCore(ctx, db, busID); err != nil {
			return err
		}

		if err := expireBusCore(ctx, db, busID, at); err != nil {
			return err
		}

		rows, err := db.Query(ctx,
			`SELECT s.id, s.bus_id, s.seat_number
         	 FROM seats s
         	 LEFT JOIN seat_claims c ON c.bus_id = s.bus_id AND c.seat_id = s.id
        	 WHERE s.bus_id = $1 AND c.seat_id IS NULL
        	 ORDER BY s.seat_number`,
			busID,
		)
		if err != nil {
			return err
		}

		defer rows.Close()

		for rows.Next() {
			var s domain.Seat
			if err := rows.Scan(&s.ID, &s.BusID, &s.SeatNumber); err != nil {
				return err
			}
			out = append(out, s)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *ReservationRepo) SeatsWithStatus(ctx context.Context, busID int64, at time.Time) ([]domain.SeatWithStatus, error) {
	const op = "postgres.ReservationRepo.SeatsWithStatus"

	db := r.handle()

	if err := busExistsCore(ctx, db, busID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	rows, err := db.Query(ctx,
		`SELECT s.id, s.bus_id, s.seat_number,
        	(c.seat_id IS NULL OR (c.booking_id IS NULL AND c.expires_at <= $2)) AS available
      	 FROM seats s
      	 LEFT JOIN seat_claims c ON c.bus_id = s.bus_id AND c.seat_id = s.id
     	 WHERE s.bus_id = $1
     	 ORDER BY s.seat_number`,
		busID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.SeatWithStatus
	for rows.Next() {
		var sws domain.SeatWithStatus
		if err := rows.Scan(&sws.ID, &sws.BusID, &sws.SeatNumber, &sws.Available); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, sws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *ReservationRepo) Counts(ctx context.Context, busID int64, at time.Time) (*domain.BusCounts, error) {
	const op = "postgres.ReservationRepo.Counts"

	db := r.handle()

	if err := busExistsCore(ctx, db, busID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	var bc domain.BusCounts
	err := db.QueryRow(ctx,
		`SELECT
        	COUNT(*),
        	COUNT(*) FILTER (WHERE c.booking_id IS NOT NULL),
        	COUNT(*) FILTER (WHERE c.booking_id IS NULL AND c.expires_at > $2)
     	 FROM seats s
     	 LEFT JOIN seat_claims c ON c.bus_id = s.bus_id AND c.seat_id = s.id
     	 WHERE s.bus_id = $1`,
		busID, at,
	).Scan(&bc.Total, &bc.Booked, &bc.Held)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	bc.Free = bc.Total - bc.Booked - bc.Held

	return &bc, nil
}

// CreateHeld persists the blocking and claims its seat set in one
// transaction. The claim insert is conditional on the (bus_id, seat_id)
// primary key; any missing row count means a seat was taken and the whole
// transaction rolls back.
func (r *ReservationRepo) CreateHeld(ctx context.Context, b *domain.Blocking) error {
	const op = "postgres.ReservationRepo.CreateHeld"

	err := r.inTx(ctx, func(ctx context.Context, db DB) error {
		if err := expireBusCore(ctx, db, b.BusID, b.CreatedAt); err != nil {
			return err
		}

		if _, err := db.Exec(ctx,
			`INSERT INTO blockings(id, bus_id, user_id, passenger_count, pickup_stop_id, status, created_at, expires_at)
         	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			b.ID, b.BusID, b.UserID, b.PassengerCount, b.PickupStopID,
			string(domain.BlockingHeld), b.CreatedAt, b.ExpiresAt,
		); err != nil {
			return err
		}

		if _, err := db.Exec(ctx,
			`INSERT INTO blocking_seats(blocking_id, seat_id)
         	 SELECT $1, sid FROM unnest($2::bigint[]) AS sid`,
			b.ID, b.SeatIDs,
		); err != nil {
			return err
		}

		tag, err := db.Exec(ctx,
			`INSERT INTO seat_claims(bus_id, seat_id, blocking_id, expires_at)
         	 SELECT $1, sid, $3, $4 FROM unnest($2::bigint[]) AS sid
         	 ON CONFLICT (bus_id, seat_id) DO NOTHING`,
			b.BusID, b.SeatIDs, b.ID, b.ExpiresAt,
		)
		if err != nil {
			return err
		}

		if int(tag.RowsAffected()) != len(b.SeatIDs) {
			return repository.ErrSeatsUnavailable
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *ReservationRepo) GetBlocking(ctx context.Context, id uuid.UUID) (*domain.Blocking, error) {
	const op = "postgres.ReservationRepo.GetBlocking"

	db := r.handle()

	b, err := getBlockingCore(ctx, db, id, false)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

// ConfirmBlocking promotes the held claims to a permanent booking claim and
// appends the booking. The blocking row is locked for the duration so a
// racing sweep or cancel serializes behind it.
func (r *ReservationRepo) ConfirmBlocking(
	ctx context.Context,
	blockingID, bookingID uuid.UUID,
	now time.Time,
) (*domain.Booking, error) {
	const op = "postgres.ReservationRepo.ConfirmBlocking"

	var out *domain.Booking

	err := r.inTx(ctx, func(ctx context.Context, db DB) error {
		b, err := getBlockingCore(ctx, db, blockingID, true)
		if err != nil {
			return err
		}

		// A sweep or lazy expiry may have finalized the blocking as expired
		// already; that is still the expiry outcome, not a finalization
		// conflict.
		if b.Status == domain.BlockingExpired {
			return repository.ErrBlockingExpired
		}

		if b.Status.Terminal() {
			return repository.ErrAlreadyFinalized
		}

		if !b.ExpiresAt.After(now) {
			if err := finalizeCore(ctx, db, blockingID, domain.BlockingExpired); err != nil {
				return err
			}
			return repository.ErrBlockingExpired
		}

		if _, err := db.Exec(ctx,
			`INSERT INTO bookings(id, blocking_id, created_at)
         	 VALUES ($1, $2, $3)`,
			bookingID, blockingID, now,
		); err != nil {
			return err
		}

		tag, err := db.Exec(ctx,
			`UPDATE seat_claims
            	SET booking_id = $2, expires_at = NULL
          	 WHERE blocking_id = $1 AND booking_id IS NULL`,
			blockingID, bookingID,
		)
		if err != nil {
			return err
		}

		// Rolls back the booking insert as well.
		if int(tag.RowsAffected()) != b.PassengerCount {
			return repository.ErrNotHeld
		}

		if _, err := db.Exec(ctx,
			`UPDATE blockings SET status = $2 WHERE id = $1`,
			blockingID, string(domain.BlockingConfirmed),
		); err != nil {
			return err
		}

		out = &domain.Booking{ID: bookingID, BlockingID: blockingID, CreatedAt: now}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *ReservationRepo) CancelBlocking(ctx context.Context, blockingID uuid.UUID, now time.Time) error {
	const op = "postgres.ReservationRepo.CancelBlocking"

	err := r.inTx(ctx, func(ctx context.Context, db DB) error {
		b, err := getBlockingCore(ctx, db, blockingID, true)
		if err != nil {
			return err
		}

		if b.Status == domain.BlockingExpired {
			return repository.ErrBlockingExpired
		}

		if b.Status.Terminal() {
			return repository.ErrAlreadyFinalized
		}

		if !b.ExpiresAt.After(now) {
			if err := finalizeCore(ctx, db, blockingID, domain.BlockingExpired); err != nil {
				return err
			}
			return repository.ErrBlockingExpired
		}

		return finalizeCore(ctx, db, blockingID, domain.BlockingCancelled)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ExpireSweep transitions every overdue held blocking to expired and drops
// its claims. Safe to run concurrently with confirm/cancel: the status
// predicate makes the transition idempotent.
func (r *ReservationRepo) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	const op = "postgres.ReservationRepo.ExpireSweep"

	var expired int64

	err := r.inTx(ctx, func(ctx context.Context, db DB) error {
		tag, err := db.Exec(ctx,
			`UPDATE blockings SET status = $2
          	 WHERE status = $3 AND expires_at <= $1`,
			now, string(domain.BlockingExpired), string(domain.BlockingHeld),
		)
		if err != nil {
			return err
		}

		expired = tag.RowsAffected()

		_, err = db.Exec(ctx,
			`DELETE FROM seat_claims
          	 WHERE booking_id IS NULL AND expires_at <= $1`,
			now,
		)

		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return expired, nil
}

// busExistsCore distinguishes an unknown bus from one with no seats. ErrNoRows
// translates to repository.ErrNotFound at the call sites.
func busExistsCore(ctx context.Context, db DB, busID int64) error {
	var one int
	return db.QueryRow(ctx, `SELECT 1 FROM buses WHERE id = $1`, busID).Scan(&one)
}

// expireBusCore is the lazy per-bus variant of the sweep, run at the start of
// claim and free-seat transactions.
func expireBusCore(ctx context.Context, db DB, busID int64, now time.Time) error {
	if _, err := db.Exec(ctx,
		`UPDATE blockings SET status = $3
      	 WHERE bus_id = $1 AND status = $4 AND expires_at <= $2`,
		busID, now, string(domain.BlockingExpired), string(domain.BlockingHeld),
	); err != nil {
		return err
	}

	_, err := db.Exec(ctx,
		`DELETE FROM seat_claims
      	 WHERE bus_id = $1 AND booking_id IS NULL AND expires_at <= $2`,
		busID, now,
	)

	return err
}

func getBlockingCore(ctx context.Context, db DB, id uuid.UUID, forUpdate bool) (*domain.Blocking, error) {
	q := `SELECT id, bus_id, user_id, passenger_count, pickup_stop_id, status, created_at, expires_at
      	  FROM blockings WHERE id = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}

	var b domain.Blocking
	var status string

	if err := db.QueryRow(ctx, q, id).Scan(
		&b.ID,
		&b.BusID,
		&b.UserID,
		&b.PassengerCount,
		&b.PickupStopID,
		&status,
		&b.CreatedAt,
		&b.ExpiresAt,
	); err != nil {
		return nil, err
	}

	b.Status = domain.BlockingStatus(status)

	if err := db.QueryRow(ctx,
		`SELECT COALESCE(array_agg(seat_id ORDER BY seat_id), '{}')
       	 FROM blocking_seats WHERE blocking_id = $1`,
		id,
	).Scan(&b.SeatIDs); err != nil {
		return nil, err
	}

	return &b, nil
}

// finalizeCore releases any held claims and moves the blocking to a terminal
// status. Booked claims (booking_id set) are never touched.
func finalizeCore(ctx context.Context, db DB, id uuid.UUID, status domain.BlockingStatus) error {
	if _, err := db.Exec(ctx,
		`DELETE FROM seat_claims WHERE blocking_id = $1 AND booking_id IS NULL`,
		id,
	); err != nil {
		return err
	}

	_, err := db.Exec(ctx,
		`UPDATE blockings SET status = $2 WHERE id = $1`,
		id, string(status),
	)

	return err
}

package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
)

type ScheduleRepo struct {
	store *Store
	db    DB
}

func (r *ScheduleRepo) With(db DB) *ScheduleRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ScheduleRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.store.pool
}

// CreateBusWithLayout creates the bus, its stops and its seat inventory in
// one transaction. Buses are immutable once in service, so this is the only
// schedule write path.
func (r *ScheduleRepo) CreateBusWithLayout(
	ctx context.Context,
	bus domain.Bus,
	stops []domain.Stop,
	seatNumbers []string,
) (int64, error) {
	const op = "postgres.ScheduleRepo.CreateBusWithLayout"

	var busID int64

	run := func(ctx context.Context, db DB) error {
		if err := db.QueryRow(ctx,
			`INSERT INTO buses(bus_number, source, destination, start_time)
         	 VALUES ($1, $2, $3, $4)
         	 RETURNING id`,
			bus.BusNumber, bus.Source, bus.Destination, bus.StartTime,
		).Scan(&busID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, s := range stops {
			batch.Queue(
				`INSERT INTO stops(bus_id, stop_name, stop_time)
             	 VALUES ($1, $2, $3)`,
				busID, s.StopName, s.StopTime,
			)
		}
		for _, sn := range seatNumbers {
			batch.Queue(
				`INSERT INTO seats(bus_id, seat_number)
             	 VALUES ($1, $2)`,
				busID, sn,
			)
		}
		if len(stops)+len(seatNumbers) > 0 {
			if err := db.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}

		return nil
	}

	var err error
	if r.db != nil {
		err = run(ctx, r.db)
	} else {
		err = r.store.RunTx(ctx, nil, run)
	}
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return busID, nil
}

func (r *ScheduleRepo) GetBus(ctx context.Context, id int64) (*domain.Bus, error) {
	const op = "postgres.ScheduleRepo.GetBus"

	db := r.handle()

	var b domain.Bus
	err := db.QueryRow(ctx,
		`SELECT id, bus_number, source, destination, start_time
       	 FROM buses WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.BusNumber, &b.Source, &b.Destination, &b.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &b, nil
}

func (r *ScheduleRepo) ListBuses(ctx context.Context, f repository.BusFilter) ([]domain.Bus, error) {
	const op = "postgres.ScheduleRepo.ListBuses"

	db := r.handle()

	q := `SELECT id, bus_number, source, destination, start_time FROM buses`
	var args []any
	var where []string

	if f.Source != "" {
		args = append(args, f.Source)
		where = append(where, "source = $"+strconv.Itoa(len(args)))
	}

	if f.Destination != "" {
		args = append(args, f.Destination)
		where = append(where, "destination = $"+strconv.Itoa(len(args)))
	}

	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := strconv.Itoa(len(args))
		where = append(where,
			"(bus_number ILIKE $"+n+" OR source ILIKE $"+n+" OR destination ILIKE $"+n+")")
	}

	for i, w := range where {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}

	if f.OrderBy == "start_time" {
		q += " ORDER BY start_time"
	} else {
		q += " ORDER BY id"
	}

	args = append(args, f.Limit)
	q += " LIMIT $" + strconv.Itoa(len(args))
	args = append(args, f.Offset)
	q += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Bus
	for rows.Next() {
		var b domain.Bus
		if err := rows.Scan(&b.ID, &b.BusNumber, &b.Source, &b.Destination, &b.StartTime); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *ScheduleRepo) GetStop(ctx context.Context, id int64) (*domain.Stop, error) {
	const op = "postgres.ScheduleRepo.GetStop"

	db := r.handle()

	var s domain.Stop
	err := db.QueryRow(ctx,
		`SELECT id, bus_id, stop_name, stop_time
       	 FROM stops WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.BusID, &s.StopName, &s.StopTime)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &s, nil
}

func (r *ScheduleRepo) ListStops(ctx context.Context, f repository.StopFilter) ([]domain.Stop, error) {
	const op = "postgres.ScheduleRepo.ListStops"

	db := r.handle()

	q := `SELECT id, bus_id, stop_name, stop_time FROM stops WHERE bus_id = $1`
	args := []any{f.BusID}

	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		q += " AND stop_name ILIKE $" + strconv.Itoa(len(args))
	}

	q += " ORDER BY stop_time"

	args = append(args, f.Limit)
	q += " LIMIT $" + strconv.Itoa(len(args))
	args = append(args, f.Offset)
	q += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Stop
	for rows.Next() {
		var s domain.Stop
		if err := rows.Scan(&s.ID, &s.BusID, &s.StopName, &s.StopTime); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

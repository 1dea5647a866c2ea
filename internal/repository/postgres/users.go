package postgres

import (
	"context"
	"fmt"

	"github.com/olekht/bustix-go/internal/domain"
)

type UserRepo struct {
	store *Store
	db    DB
}

func (r *UserRepo) With(db DB) *UserRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *UserRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.store.pool
}

func (r *UserRepo) CreateUser(ctx context.Context, u *domain.User) (int64, error) {
	const op = "postgres.UserRepo.CreateUser"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO users(username, email, password_hash, created_at)
       	 VALUES ($1, $2, $3, $4)
     	 RETURNING id`,
		u.Username, u.Email, u.PasswordHash, u.CreatedAt,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

func (r *UserRepo) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const op = "postgres.UserRepo.UserByUsername"

	db := r.handle()

	var u domain.User
	err := db.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at
       	 FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &u, nil
}

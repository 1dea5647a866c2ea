package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/olekht/bustix-go/internal/clock"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Service struct {
	users repository.UserStore
	clk   clock.Clock
	cfg   Config
}

func New(users repository.UserStore, clk clock.Clock, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	if clk == nil {
		clk = clock.System()
	}

	return &Service{users: users, clk: clk, cfg: cfg}
}

func (s *Service) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	const op = "service.auth.Register"

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	u := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.clk.Now(),
	}

	id, err := s.users.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, ErrUsernameTaken)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	u.ID = id

	return u, nil
}

// Login verifies the credentials and issues a signed bearer token carrying
// the user identity the coordinator records on blockings.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	const op = "service.auth.Login"

	u, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%s:%w", op, ErrInvalidCredentials)
		}

		return "", fmt.Errorf("%s:%w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("%s:%w", op, ErrInvalidCredentials)
	}

	now := s.clk.Now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, err)
	}

	return token, nil
}

func (s *Service) ParseToken(tokenStr string) (*Claims, error) {
	const op = "service.auth.ParseToken"

	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.clk.Now))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidToken)
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidToken)
	}

	return claims, nil
}

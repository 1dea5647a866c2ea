package service

import (
	"github.com/olekht/bustix-go/internal/clock"
	redisx "github.com/olekht/bustix-go/internal/redis"
	"github.com/olekht/bustix-go/internal/repository"
	redisrepo "github.com/olekht/bustix-go/internal/repository/redis"
	"github.com/olekht/bustix-go/internal/service/auth"
	"github.com/olekht/bustix-go/internal/service/booking"
	"github.com/olekht/bustix-go/internal/service/reservation"
	"github.com/olekht/bustix-go/internal/service/schedule"
)

// Stores bundles the repository contracts a driver (postgres or memory) must
// provide.
type Stores struct {
	Reservations repository.ReservationStore
	Schedule     repository.ScheduleStore
	Bookings     repository.BookingStore
	Users        repository.UserStore
}

type Services struct {
	Reservation *reservation.Service
	Schedule    *schedule.Service
	Booking     *booking.Service
	Auth        *auth.Service
}

type Config struct {
	Reservation reservation.Config
	Schedule    schedule.Config
	Auth        auth.Config
}

func NewServices(
	stores Stores,
	cache *redisrepo.Cache,
	pubsub *redisx.BusPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	clk clock.Clock,
	cfg Config,
) *Services {
	return &Services{
		Reservation: reservation.New(stores.Reservations, stores.Schedule, cache, pubsub, limiter, clk, cfg.Reservation),
		Schedule:    schedule.New(stores.Schedule, cfg.Schedule),
		Booking:     booking.New(stores.Bookings),
		Auth:        auth.New(stores.Users, clk, cfg.Auth),
	}
}

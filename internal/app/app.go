package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekht/bustix-go/internal/clock"
	"github.com/olekht/bustix-go/internal/config"
	"github.com/olekht/bustix-go/internal/postgres"
	redisx "github.com/olekht/bustix-go/internal/redis"
	"github.com/olekht/bustix-go/internal/repository/memory"
	pgrepo "github.com/olekht/bustix-go/internal/repository/postgres"
	redisrepo "github.com/olekht/bustix-go/internal/repository/redis"
	"github.com/olekht/bustix-go/internal/service"
	"github.com/olekht/bustix-go/internal/service/auth"
	"github.com/olekht/bustix-go/internal/service/reservation"
	httpgin "github.com/olekht/bustix-go/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger
	server *http.Server
	svcs   *service.Services
	close  func()
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.New"

	clk := clock.System()

	stores, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var (
		cache   *redisrepo.Cache
		pubsub  *redisx.BusPubSub
		limiter *redisrepo.SlidingWindowLimiter
		idem    *redisrepo.IdempotencyStore
	)

	closeRedis := func() {}
	if cfg.Redis.Addr != "" {
		rdb, err := redisx.New(ctx, redisx.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			closeStores()
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		cache = redisrepo.New(rdb)
		pubsub = redisx.NewBusPubSub(rdb)
		limiter = redisrepo.NewSlidingWindowLimiter(
			rdb,
			redisx.KeyRateLimit("blockings"),
			30,
			time.Minute,
		)
		idem = redisrepo.NewIdempotencyStore(rdb, 24*time.Hour)
		closeRedis = func() { _ = rdb.Close() }
	} else {
		logger.Warn("redis disabled, running without cache, limiter and idempotency")
	}

	svcs := service.NewServices(stores, cache, pubsub, limiter, clk, service.Config{
		Reservation: reservation.Config{
			HoldTTL:      cfg.Reservation.HoldTTL,
			ClaimRetries: cfg.Reservation.ClaimRetries,
		},
		Auth: auth.Config{
			JWTSecret: cfg.Auth.JWTSecret,
			TokenTTL:  cfg.Auth.TokenTTL,
		},
	})

	router := httpgin.NewRouter(svcs, idem, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		server: srv,
		svcs:   svcs,
		close: func() {
			closeRedis()
			closeStores()
		},
	}, nil
}

func buildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.Stores, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN()})
		if err != nil {
			return service.Stores{}, nil, err
		}

		store := pgrepo.NewStore(pool)

		return service.Stores{
			Reservations: store.Reservations(),
			Schedule:     store.Schedule(),
			Bookings:     store.Bookings(),
			Users:        store.Users(),
		}, pool.Close, nil

	case "memory":
		logger.Warn("using in-memory storage, state is lost on restart")

		store := memory.NewStore()

		return service.Stores{
			Reservations: store,
			Schedule:     store,
			Bookings:     store,
			Users:        store,
		}, func() {}, nil

	default:
		return service.Stores{}, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Run starts the HTTP server and the expiry sweeper and blocks until the
// context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	const op = "app.Run"

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s:%w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		a.logger.Info("shutting down http server")

		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.sweepLoop(ctx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// sweepLoop periodically releases overdue holds so seats do not stay blocked
// when nobody touches the expired blocking again.
func (a *App) sweepLoop(ctx context.Context) {
	interval := a.cfg.Reservation.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.svcs.Reservation.ExpireSweep(ctx)
			if err != nil {
				a.logger.Error("expiry sweep failed", slog.Any("error", err))
				continue
			}

			if n > 0 {
				a.logger.Info("expired blockings released", slog.Int64("count", n))
			}
		}
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Reservation ReservationConfig
}

type ServerConfig struct {
	Host string `envconfig:"SERVER_HOST" default:"localhost"`
	Port int    `envconfig:"SERVER_PORT" default:"8080"`
}

type StorageConfig struct {
	// "postgres" or "memory". The memory driver is for local development;
	// blockings do not survive a restart.
	Driver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
}

type PostgresConfig struct {
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Name     string `envconfig:"POSTGRES_DB"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

type RedisConfig struct {
	// Empty Addr disables the cache, limiter, idempotency store and pub/sub.
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL  time.Duration `envconfig:"JWT_TTL" default:"1h"`
}

type ReservationConfig struct {
	HoldTTL       time.Duration `envconfig:"HOLD_TTL" default:"10m"`
	ClaimRetries  int           `envconfig:"CLAIM_RETRIES" default:"3"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if cfg.Storage.Driver == "postgres" {
		if cfg.Postgres.User == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
		}
		if cfg.Postgres.Password == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
		}
		if cfg.Postgres.Name == "" {
			return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
		}
	}

	return &cfg, nil
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

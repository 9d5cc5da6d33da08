package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/or-scheduler/internal/booking"
	appconfig "github.com/wolfman30/or-scheduler/internal/config"
	"github.com/wolfman30/or-scheduler/internal/hospitalapi"
	"github.com/wolfman30/or-scheduler/internal/mockbackend"
	"github.com/wolfman30/or-scheduler/internal/observability/metrics"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects to DATABASE_URL. An empty URL returns nil so the
// in-memory stores are used instead.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("postgres connected", "max_conns", poolCfg.MaxConns)
	return pool, nil
}

// SQLDB exposes pool through database/sql for the stores written against it.
func SQLDB(pool *pgxpool.Pool) *sql.DB {
	if pool == nil {
		return nil
	}
	return stdlib.OpenDBFromPool(pool)
}

// LoadLocation resolves the scheduler time zone, falling back to UTC.
func LoadLocation(name string, logger *logging.Logger) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if logger != nil {
			logger.Warn("unknown time zone; using UTC", "tz", name, "error", err)
		}
		return time.UTC
	}
	return loc
}

// BuildBackend selects the booking backend. Remote mode needs both hospital
// base URLs.
func BuildBackend(cfg *appconfig.Config, registry *booking.IDRegistry, loc *time.Location, m *metrics.SchedulerMetrics, logger *logging.Logger) (booking.Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if cfg.UseMockBackend() {
		return mockbackend.New(registry, logger).WithLocation(loc), nil
	}
	if strings.TrimSpace(cfg.HospitalAPIBaseURL) == "" || strings.TrimSpace(cfg.SchedulerAPIBaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: remote backend needs HOSPITAL_API_BASE_URL and SCHEDULER_API_BASE_URL")
	}
	client := hospitalapi.New(hospitalapi.Config{
		BookingBaseURL:   cfg.HospitalAPIBaseURL,
		SchedulerBaseURL: cfg.SchedulerAPIBaseURL,
		HospitalID:       cfg.HospitalID,
		Token:            cfg.HospitalAPIToken,
		Timeout:          cfg.HTTPTimeout,
		MaxAttempts:      cfg.RetryMaxAttempts,
		BaseDelay:        cfg.RetryBaseDelay,
		RatePerSecond:    cfg.RatePerSecond,
		Location:         loc,
	}, registry, logger)
	return client.WithMetrics(m), nil
}

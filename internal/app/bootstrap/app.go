package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/or-scheduler/internal/api/router"
	"github.com/wolfman30/or-scheduler/internal/audit"
	"github.com/wolfman30/or-scheduler/internal/availability"
	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/bookings"
	"github.com/wolfman30/or-scheduler/internal/calendar"
	appconfig "github.com/wolfman30/or-scheduler/internal/config"
	"github.com/wolfman30/or-scheduler/internal/events"
	"github.com/wolfman30/or-scheduler/internal/http/handlers"
	"github.com/wolfman30/or-scheduler/internal/observability/metrics"
	"github.com/wolfman30/or-scheduler/internal/refdata"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/internal/sessions"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

const janitorInterval = time.Minute

// App is the assembled API process: HTTP handler plus the background loops
// that keep the calendar, sessions and event relay moving.
type App struct {
	Handler  http.Handler
	Backend  booking.Backend
	Sessions *sessions.Manager
	Poller   *calendar.Poller
	Hub      *calendar.Hub

	deliverer *events.Deliverer
	pool      *pgxpool.Pool
	redis     *redis.Client
	logger    *logging.Logger

	wg sync.WaitGroup
}

// Build wires every component from cfg. reg receives the scheduler metrics;
// nil uses a fresh registry.
func Build(ctx context.Context, cfg *appconfig.Config, reg *prometheus.Registry, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewSchedulerMetrics(reg)
	loc := LoadLocation(cfg.Timezone, logger)

	// One numbering for the process: wizards, the reference cache and the
	// calendar all read the same center and room ids.
	registry := booking.NewIDRegistry()
	backend, err := BuildBackend(cfg, registry, loc, m, logger)
	if err != nil {
		return nil, err
	}
	refs := refdata.New(backend, logger)

	pool, err := BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	redisClient := BuildRedisClient(ctx, cfg, logger, true)

	app := &App{Backend: backend, pool: pool, redis: redisClient, logger: logger}

	var recorder audit.Recorder = audit.NewMemoryRecorder()
	var ledger bookings.Ledger = bookings.NewMemoryLedger()
	if pool != nil {
		recorder = audit.NewService(SQLDB(pool))
		ledger = bookings.NewPgLedger(pool)
	}

	publisher, deliverer, err := BuildEventPublisher(ctx, cfg, pool, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.deliverer = deliverer

	var store sessions.Store
	if redisClient != nil {
		store = sessions.NewRedisStore(redisClient, cfg.WizardSessionTTL)
	}
	app.Sessions = sessions.NewManager(store, cfg.WizardSessionTTL, logger, scheduling.WithLocation(loc)).WithMetrics(m)

	gate := bookings.NewGate(backend, logger).WithAudit(recorder).WithMetrics(m)
	submissions := bookings.NewService(backend, ledger, logger).
		WithAudit(recorder).
		WithPublisher(publisher).
		WithMetrics(m)

	app.Hub = calendar.NewHub(logger).WithAllowedOrigins(cfg.CORSAllowedOrigins).WithMetrics(m)
	app.Poller = calendar.NewPoller(backend, refs, logger).
		WithInterval(cfg.CalendarPollInterval).
		WithLocation(loc).
		WithAudit(recorder).
		WithPublisher(publisher).
		WithBroadcaster(app.Hub).
		WithMetrics(m)

	wizard := handlers.NewWizardHandler(handlers.WizardConfig{
		Sessions:    app.Sessions,
		Slots:       availability.NewService(backend, logger).WithLocation(loc).WithMetrics(m),
		Staff:       backend,
		Resources:   backend,
		Gate:        gate,
		Submissions: submissions,
		Location:    loc,
		Logger:      logger,
	})

	app.Handler = router.New(&router.Config{
		Logger:             logger,
		Wizard:             wizard,
		Calendar:           handlers.NewCalendarHandler(app.Poller, app.Hub, logger),
		Reference:          handlers.NewReferenceHandler(refs, logger),
		StaffAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Backend:            backend.Name(),
		Ready:              app.Ready,
	})

	logger.Info("application wired",
		"backend", backend.Name(),
		"postgres", pool != nil,
		"redis", redisClient != nil,
		"event_relay", deliverer != nil,
		"tz", loc.String(),
	)
	return app, nil
}

// Start launches the background loops. They stop when ctx ends; Wait
// blocks until they have.
func (a *App) Start(ctx context.Context) {
	a.run(func() { a.Poller.Run(ctx) })
	a.run(func() { a.Sessions.RunJanitor(ctx, janitorInterval) })
	if a.deliverer != nil {
		a.run(func() { a.deliverer.Start(ctx) })
	}
}

func (a *App) run(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Wait blocks until every background loop returned.
func (a *App) Wait() {
	a.wg.Wait()
}

// Ready pings the optional stores.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close drops stream clients and releases connections.
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

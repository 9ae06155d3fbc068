package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ostrovok-lab/gatecheck/internal/config"
	"github.com/ostrovok-lab/gatecheck/internal/postgres"
	redisx "github.com/ostrovok-lab/gatecheck/internal/redis"
	postgresrepo "github.com/ostrovok-lab/gatecheck/internal/repository/postgres"
	redisrepo "github.com/ostrovok-lab/gatecheck/internal/repository/redis"
	"github.com/ostrovok-lab/gatecheck/internal/service"
	"github.com/ostrovok-lab/gatecheck/internal/service/inventory"
	"github.com/ostrovok-lab/gatecheck/internal/service/reservation"
	httpgin "github.com/ostrovok-lab/gatecheck/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	services   *service.Services
	pubsub     *redisx.InventoryPubSub
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisx.NewInventoryPubSub(rdb)
	// Same counter, two roles: rates feeds the allocation strategy (no
	// limit), limiter throttles hold creation per client IP.
	rates := redisrepo.NewSlidingWindow(rdb, "holds:rate", 0, cfg.Holds.RateWindow)
	limiter := redisrepo.NewSlidingWindow(rdb, "rl", int(cfg.Holds.RateLimitPerIP), time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, rates, limiter, service.Config{
		Reservation: reservation.Config{
			HoldTTL:    cfg.Holds.TTL,
			MaxHoldQty: cfg.Holds.MaxQty,
			Strategy: reservation.StrategyConfig{
				RushWindow:    cfg.Holds.RushWindow,
				RateWindow:    cfg.Holds.RateWindow,
				RateThreshold: cfg.Holds.RateThreshold,
			},
		},
		Inventory: inventory.Config{},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		services: services,
		pubsub:   pubsub,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Surface inventory changes from every instance in this one's log.
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(_ context.Context, eventID, tierID int64) {
			a.logger.Info("inventory changed", "event_id", eventID, "tier_id", tierID)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("inventory subscription: %w", err)
		}
		return nil
	})

	// Background purge sweep. Expired holds are already purged lazily on
	// every inventory-touching request; the sweep only bounds how long a
	// quiet tier can sit with stale holds.
	if a.cfg.Holds.SweepInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.Holds.SweepInterval)
			defer ticker.Stop()

			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					purged, err := a.services.Reservation.Purge(gCtx)
					if err != nil {
						a.logger.Error("hold sweep failed", "error", err)
						continue
					}
					if purged > 0 {
						a.logger.Info("hold sweep", "purged", purged)
					}
				}
			}
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

// Package control wires the engine's dependencies and manages its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ndthang/copyflow/internal/core/config"
	"github.com/ndthang/copyflow/internal/engine/retry"
	"github.com/ndthang/copyflow/internal/engine/settlement"
	"github.com/ndthang/copyflow/internal/health"
	"github.com/ndthang/copyflow/internal/infra/redisq"
	"github.com/ndthang/copyflow/internal/infra/storage"
	"github.com/ndthang/copyflow/internal/infra/storage/memory"
	"github.com/ndthang/copyflow/internal/infra/storage/postgres"
	"github.com/ndthang/copyflow/internal/notify"
	"github.com/ndthang/copyflow/internal/venue/httpvenue"
)

// App is the assembled service.
type App struct {
	cfg          *config.AppConfig
	engine       *retry.Engine
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisq.Client
	log          *slog.Logger
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	// Storage: Postgres when configured, memory otherwise.
	var (
		jobRepo        storage.JobRepository
		tradeRepo      storage.TradeRepository
		obligationRepo storage.ObligationRepository
		accountRepo    storage.AccountRepository
		db             *postgres.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(cfg.Engine.MigrationDir); err != nil {
			return nil, err
		}
		jobRepo = postgres.NewJobRepo(db)
		tradeRepo = postgres.NewTradeRepo(db)
		obligationRepo = postgres.NewObligationRepo(db)
		accountRepo = postgres.NewAccountRepo(db)
		log.Info("using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		jobRepo = memory.NewJobRepo(store)
		tradeRepo = memory.NewTradeRepo(store)
		obligationRepo = memory.NewObligationRepo(store)
		accountRepo = memory.NewAccountRepo(store)
		log.Warn("no database configured, using memory storage; jobs will not survive restarts")
	}

	// Venue gateway.
	if cfg.Venue.URL == "" {
		return nil, errors.New("venue.url is required")
	}
	venueClient := httpvenue.NewClient(cfg.Venue)

	// Notification sink: Redis stream when configured, structured log otherwise.
	var notifier notify.Notifier
	var redisClient *redisq.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisq.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		notifier = redisq.NewNotifier(redisClient, log)
		log.Info("publishing events to redis stream")
	} else {
		notifier = notify.NewLogNotifier(log)
	}

	settler := settlement.NewSettler(venueClient, accountRepo, obligationRepo, log)

	engineCfg := retry.Config{
		Interval:     cfg.Engine.Interval,
		BatchSize:    cfg.Engine.BatchSize,
		Stagger:      cfg.Engine.Stagger,
		Cooldown:     cfg.Engine.Cooldown,
		MaxCooldowns: cfg.Engine.MaxCooldowns,
		MaxAgeClose:  cfg.Engine.MaxAgeClose,
		MaxAgeOpen:   cfg.Engine.MaxAgeOpen,
	}
	engine := retry.New(engineCfg, retry.Deps{
		Jobs:      jobRepo,
		Trades:    tradeRepo,
		Executor:  venueClient,
		Positions: venueClient,
		Settler:   settler,
		Notifier:  notifier,
		Log:       log,
	})

	checks := map[string]health.Check{
		"venue": venueClient.Health,
		"engine": func(ctx context.Context) error {
			return nil // engine is healthy if the process is up
		},
	}
	if db != nil {
		checks["database"] = db.Health
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}

	return &App{
		cfg:          cfg,
		engine:       engine,
		healthServer: health.NewServer(cfg.Server.Port, checks),
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Engine exposes the retry engine to the enclosing service.
func (a *App) Engine() *retry.Engine {
	return a.engine
}

// Start recovers persisted jobs and launches the worker loop and health server.
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	a.engine.Start(ctx)

	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("health server stopped", "error", err)
		}
	}()

	a.log.Info("engine started",
		"port", a.cfg.Server.Port,
		"interval", a.cfg.Engine.Interval,
		"batch_size", a.cfg.Engine.BatchSize,
	)
	return nil
}

// Stop shuts everything down gracefully.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error

	if err := a.engine.Stop(ctx); err != nil {
		firstErr = err
	}
	if err := a.healthServer.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

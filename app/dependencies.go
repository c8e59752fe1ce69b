package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/preset/enhancement-gateway/config"
	"github.com/preset/enhancement-gateway/handlers"
	"github.com/preset/enhancement-gateway/middleware"
	"github.com/preset/enhancement-gateway/repositories"
	"github.com/preset/enhancement-gateway/repositories/postgres"
	"github.com/preset/enhancement-gateway/services/alerts"
	"github.com/preset/enhancement-gateway/services/audit"
	"github.com/preset/enhancement-gateway/services/credits"
	"github.com/preset/enhancement-gateway/services/enhancement"
	"github.com/preset/enhancement-gateway/services/providers"
	"github.com/preset/enhancement-gateway/services/providers/stats"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// drainTimeout bounds how long Close waits for queued alerts and transactions
const drainTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Redis  *redis.Client
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Providers
	ProviderRegistry *providers.Registry
	Providers        []providers.Provider
	StatsTracker     stats.Tracker

	// Services
	Alerts       *alerts.Dispatcher
	Recorder     *audit.Service
	Credits      *credits.Service
	Orchestrator *enhancement.Orchestrator

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	HealthHandler  *handlers.HealthHandler
	EnhanceHandler *handlers.EnhanceHandler
	CreditsHandler *handlers.CreditsHandler
	AdminHandler   *handlers.AdminHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initStats(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize provider stats: %w", err)
	}

	if err := deps.initAlerts(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize alerts: %w", err)
	}

	if err := deps.initRecorder(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize transaction recorder: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initEnhancement(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize enhancement chain: %w", err)
	}

	deps.initAuth(cfg)
	deps.initHandlers(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("provider_chain", deps.providerNames()))
	return deps, nil
}

// initDatabase initializes the PostgreSQL database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	if cfg.Database.AutoMigrate {
		if err := d.DB.InitSchema(ctx); err != nil {
			return err
		}
	}

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initStats selects the provider statistics store.
// Redis shares the 24h window across replicas; memory is per-process.
func (d *Dependencies) initStats(ctx context.Context, cfg *config.Config) error {
	if cfg.Stats.RedisURL == "" {
		d.StatsTracker = stats.NewMemoryTracker(cfg.Stats.Window)
		d.Logger.Info("provider stats kept in memory")
		return nil
	}

	client, err := stats.NewRedisClient(ctx, cfg.Stats.RedisURL)
	if err != nil {
		return err
	}
	d.Redis = client
	d.StatsTracker = stats.NewRedisTracker(client, cfg.Stats.Window, d.Logger)
	d.Logger.Info("provider stats kept in redis")
	return nil
}

// initAlerts wires the operational alert channel behind an async dispatcher
func (d *Dependencies) initAlerts(cfg *config.Config) error {
	var notifier alerts.Service
	if cfg.Alerts.PlunkAPIKey != "" && cfg.Alerts.Recipient != "" {
		notifier = alerts.NewPlunkNotifier(cfg.Alerts, &http.Client{Timeout: 10 * time.Second})
		d.Logger.Info("alerts delivered by email", zap.String("recipient", cfg.Alerts.Recipient))
	} else {
		notifier = alerts.NewLogNotifier(d.Logger)
		d.Logger.Warn("plunk not configured, alerts are only logged")
	}

	dispatcher := alerts.NewDispatcher(notifier, d.Logger, cfg.Alerts.BufferSize, cfg.Alerts.WorkerCount)
	if err := dispatcher.Start(); err != nil {
		return err
	}
	d.Alerts = dispatcher
	return nil
}

// initRecorder starts the async credit transaction writer
func (d *Dependencies) initRecorder(cfg *config.Config) error {
	auditCfg := audit.DefaultConfig()
	if cfg.Audit.BufferSize > 0 {
		auditCfg.BufferSize = cfg.Audit.BufferSize
	}
	if cfg.Audit.WorkerCount > 0 {
		auditCfg.WorkerCount = cfg.Audit.WorkerCount
	}

	recorder := audit.NewService(d.Repos.CreditTransactions, d.Logger, auditCfg)
	if err := recorder.Start(); err != nil {
		return err
	}
	d.Recorder = recorder
	return nil
}

// initProviders builds the enabled enhancement providers in priority order
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry, err := NewProviderRegistry()
	if err != nil {
		return err
	}
	d.ProviderRegistry = registry

	built, err := registry.Build(cfg.Providers.Enabled(), providers.Deps{
		Tracker: d.StatsTracker,
		Logger:  d.Logger,
	})
	if err != nil {
		return err
	}
	d.Providers = built

	for _, p := range built {
		d.Logger.Info("provider registered",
			zap.String("provider", p.Name()),
			zap.Int("priority", p.Priority()),
			zap.Float64("cost_per_request_usd", p.CostPerRequestUSD()))
	}
	if len(built) == 0 {
		d.Logger.Warn("no enhancement providers configured, every request will degrade")
	}
	return nil
}

// initEnhancement wires the credit ledger and the fallback orchestrator
func (d *Dependencies) initEnhancement(cfg *config.Config) error {
	d.Credits = credits.NewService(
		d.TxManager,
		d.Repos,
		d.Recorder,
		d.Alerts,
		credits.Config{
			PoolProvider:   cfg.Enhancement.PlatformPoolProvider,
			TierAllowances: cfg.Enhancement.TierAllowances,
		},
		d.Logger,
	)

	if len(d.Providers) == 0 {
		return nil
	}

	orchestrator, err := enhancement.NewOrchestrator(
		d.Providers,
		d.Credits,
		d.Repos.Providers,
		d.Alerts,
		enhancement.Config{
			ProviderTimeout:      cfg.Enhancement.ProviderTimeout,
			ChainTimeout:         cfg.Enhancement.ChainTimeout,
			CreditsPerRequest:    cfg.Enhancement.CreditsPerRequest,
			RefundFailedAttempts: cfg.Enhancement.RefundFailedAttempts,
		},
		d.Logger,
	)
	if err != nil {
		return err
	}
	d.Orchestrator = orchestrator
	return nil
}

// initAuth wires Supabase token verification, rejecting every token when no secret is set
func (d *Dependencies) initAuth(cfg *config.Config) {
	validator, err := middleware.NewSupabaseValidator(cfg.Auth)
	if err != nil {
		d.Logger.Warn("supabase auth not configured, protected routes will return 401", zap.Error(err))
		d.AuthMiddleware = middleware.NewAuthMiddleware(middleware.RejectAllValidator{}, d.Logger)
		return
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("supabase auth initialized")
}

// initHandlers builds the HTTP handlers over the wired services
func (d *Dependencies) initHandlers(cfg *config.Config) {
	var db *sql.DB
	if d.DB != nil {
		db = d.DB.DB
	}
	health := handlers.NewHealthHandler(db, d.Logger).
		WithStatus(cfg.Environment, d.providerNames())
	if d.Redis != nil {
		health.WithCheck("redis", func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		})
	}
	if d.Recorder != nil {
		health.WithRecorder(d.Recorder)
	}
	d.HealthHandler = health

	var chain interface {
		handlers.EnhancementService
		handlers.ProviderAdmin
	} = noProviders{}
	if d.Orchestrator != nil {
		chain = d.Orchestrator
	}

	d.EnhanceHandler = handlers.NewEnhanceHandler(chain, d.Logger)
	d.CreditsHandler = handlers.NewCreditsHandler(d.Credits, d.Logger)
	d.AdminHandler = handlers.NewAdminHandler(chain, d.Credits, d.Logger)
}

func (d *Dependencies) providerNames() []string {
	if d.Orchestrator != nil {
		return d.Orchestrator.Providers()
	}
	return []string{}
}

// Close gracefully shuts down all dependencies.
// Queued alerts and credit transactions are drained before the database closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	timeout := drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs error

	if d.Alerts != nil {
		if err := d.Alerts.Stop(timeout); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to stop alert dispatcher: %w", err))
		}
	}

	if d.Recorder != nil {
		if err := d.Recorder.Stop(timeout); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to stop transaction recorder: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errs
}

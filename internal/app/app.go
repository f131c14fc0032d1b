// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/config"
	"github.com/elter-ri/dar-harvester/internal/dataset"
	"github.com/elter-ri/dar-harvester/internal/harvest"
	"github.com/elter-ri/dar-harvester/internal/logging"
	"github.com/elter-ri/dar-harvester/internal/metrics"
	"github.com/elter-ri/dar-harvester/internal/ratelimit"
	"github.com/elter-ri/dar-harvester/internal/registry"
	"github.com/elter-ri/dar-harvester/internal/rules"
	"github.com/elter-ri/dar-harvester/internal/store"
)

// App holds all shared, long-lived services: the logger, the connection
// pool, the registry client, and the harvester built on top of them. It is
// initialized once at startup and passed to the commands that need it.
type App struct {
	Cfg       config.Config
	Log       *zap.Logger
	Pool      *pgxpool.Pool
	Registry  *registry.Client
	Stores    *store.Stores
	Harvester *harvest.Harvester
}

// New builds the service container from the configuration at cfgPath. It
// fails fast when any critical service cannot be initialized.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := logging.Init(cfg.Logging.Development); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log := logging.L
	metrics.Init()

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse db dsn: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DB.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	regClient := registry.NewClient(registry.Config{
		BaseURL:        cfg.Registry.BaseURL,
		AuthToken:      cfg.Registry.AuthToken,
		SourceURIField: cfg.Registry.SourceURIField,
		Timeout:        cfg.RegistryTimeout(),
	},
		ratelimit.PerMinute("registry", cfg.Registry.RequestsPerMinute),
		ratelimit.PerMinute("registry-delete", cfg.Registry.DeletesPerMinute),
		log.Named("registry"))

	validator, err := dataset.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compile dataset schema: %w", err)
	}
	engine := rules.NewEngine(validator, log.Named("rules"))

	sources := harvest.BuildSources(cfg.Repositories,
		&http.Client{Timeout: cfg.RegistryTimeout()}, log.Named("source"))
	harvester, err := harvest.New(pool, regClient, engine,
		cfg.Repositories, sources, cfg.Harvest, log.Named("harvest"))
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("application services initialized",
		zap.Int("repositories", len(cfg.Repositories)))
	return &App{
		Cfg:       cfg,
		Log:       log,
		Pool:      pool,
		Registry:  regClient,
		Stores:    store.New(pool),
		Harvester: harvester,
	}, nil
}

// Close shuts down all services in the container.
func (a *App) Close() {
	a.Pool.Close()
	_ = a.Log.Sync()
}

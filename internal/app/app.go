package app

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/featurepulse-backend/internal/data/db"
	apphttp "github.com/yungbote/featurepulse-backend/internal/http"
	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/envutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Server   *apphttp.Server
	Metrics  *observability.Metrics

	dbService     *db.DatabaseService
	otelShutdown  func(context.Context) error
	cancel        context.CancelFunc
	backgroundRun bool
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development", nil))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})
	metrics := observability.Init(log)

	dbs, err := db.NewDatabaseService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbs.AutoMigrateAll(); err != nil {
		_ = dbs.Close()
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	theDB := dbs.DB()

	reposet := wireRepos(theDB, log, cfg.MaxRowRetries)
	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = dbs.Close()
		log.Sync()
		return nil, err
	}
	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, metrics)
	if err != nil {
		if clients.Temporal != nil {
			clients.Temporal.Close()
		}
		if clients.Redis != nil {
			_ = clients.Redis.Close()
		}
		_ = dbs.Close()
		log.Sync()
		return nil, err
	}

	a := &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Metrics:      metrics,
		dbService:    dbs,
		otelShutdown: otelShutdown,
	}
	if cfg.RunHTTP {
		a.Server = wireServer(theDB, log, cfg, serviceset, metrics)
	}
	return a, nil
}

// Start launches the background executors: the Temporal worker when configured,
// otherwise the database worker pool, plus the scheduler.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Cfg.RunWorkers {
		if a.Services.Temporal != nil {
			if err := a.Services.Temporal.Start(ctx); err != nil {
				return fmt.Errorf("start temporal worker: %w", err)
			}
		} else {
			a.Services.Worker.Start(ctx)
			a.backgroundRun = true
		}
	}
	if a.Cfg.RunScheduler {
		a.Services.Scheduler.Start(ctx)
	}
	return nil
}

// Run blocks serving HTTP when enabled.
func (a *App) Run() error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Server == nil {
		return nil
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run()
}

// Shutdown stops HTTP, waits for in-flight job runs and closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Cfg.RunScheduler {
		a.Services.Scheduler.Wait()
	}
	if a.backgroundRun {
		a.Services.Worker.Wait()
	}
	if a.Clients.Temporal != nil {
		a.Clients.Temporal.Close()
	}
	if a.Clients.Redis != nil {
		if err := a.Clients.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.Log.Sync()
	return errors.Join(errs...)
}

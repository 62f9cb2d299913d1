package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/data/db"
	"github.com/yungbote/codeframe-backend/internal/data/repos"
	"github.com/yungbote/codeframe-backend/internal/jobs/queue"
	"github.com/yungbote/codeframe-backend/internal/observability"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

// App holds the process-wide dependencies. Services and Worker are only
// built by the commands that need them.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    *repos.Repos
	Queue    queue.Queue
	Metrics  *observability.Metrics
	Redis    *goredis.Client
	Clients  *Clients
	Services *Services

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

// New loads configuration, connects to the database and migrates it when
// database.auto_migrate is set.
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pg, err := db.NewPostgresService(db.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SlowThreshold:   cfg.Database.SlowThreshold,
	}, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	theDB := pg.DB()
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrateAll(theDB); err != nil {
			log.Sync()
			return nil, fmt.Errorf("automigrate: %w", err)
		}
	}

	a := &App{
		Log:     log,
		DB:      theDB,
		Cfg:     cfg,
		Repos:   repos.New(theDB, log),
		Queue:   queue.NewGormQueue(theDB, log),
		Metrics: observability.Init(),
		pg:      pg,
	}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Otel.Environment,
		Endpoint:    cfg.Otel.Endpoint,
		Headers:     cfg.Otel.Headers,
		Insecure:    cfg.Otel.Insecure,
		SampleRatio: cfg.Otel.SampleRatio,
	})
	return a, nil
}

// Wire builds clients and services for serve and worker.
func (a *App) Wire(ctx context.Context) error {
	if a.Services != nil {
		return nil
	}
	clients, rdb, err := wireClients(ctx, a.Cfg, a.Log)
	if err != nil {
		return err
	}
	a.Clients = clients
	a.Redis = rdb
	svcs, err := wireServices(a.DB, a.Log, a.Cfg, a.Repos, a.Queue, clients, rdb)
	if err != nil {
		return err
	}
	a.Services = svcs
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.pg != nil {
		if err := a.pg.Close(); err != nil && a.Log != nil {
			a.Log.Warn("close database", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

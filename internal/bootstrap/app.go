package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"compat-backend/internal/analyses"
	"compat-backend/internal/credentials"
	"compat-backend/internal/engine"
	"compat-backend/internal/queue"
	"compat-backend/internal/reports"
	"compat-backend/internal/runs"
	"compat-backend/internal/services/health"
	"compat-backend/internal/shared/config"
	"compat-backend/internal/shared/server"
	"compat-backend/internal/shared/storage/db"
	"compat-backend/internal/shared/storage/object"
	localstore "compat-backend/internal/shared/storage/object/local"
	s3store "compat-backend/internal/shared/storage/object/s3"
	"compat-backend/internal/shared/telemetry"
	"compat-backend/internal/workspaces"
)

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Store           object.ObjectStore
	Queue           queue.Client
	Resolver        *workspaces.Resolver
	Supervisor      *engine.Supervisor
	Runs            runs.Repo
	AnalysesService *analyses.Service
	AnalysisHandler *analyses.Handler
	Health          *health.Service
}

// Options tune Build for the process being started.
type Options struct {
	// DBOptions defaults to db.DefaultServerOptions.
	DBOptions *db.Options
	// SkipRouter leaves App.Router nil for processes that serve no HTTP.
	SkipRouter bool
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	return BuildWith(context.Background(), cfg, Options{})
}

// BuildWith is Build with explicit options.
func BuildWith(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	telemetry.SetLevel(cfg.LogLevel)

	dbOpts := db.DefaultServerOptions()
	if opts.DBOptions != nil {
		dbOpts = *opts.DBOptions
	}
	sqlDB, err := buildDB(ctx, cfg, db.OptionsFromEnv(dbOpts))
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	if !opts.SkipRouter {
		app.Router = server.NewRouter(server.RouterDeps{
			Config:          app.Config,
			AnalysisHandler: app.AnalysisHandler,
			Health:          app.Health,
		})
	}

	return app, nil
}

// Close releases the database pool.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config, opts db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Info("bootstrap.db_memory", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.db_memory", map[string]any{"reason": "connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "none":
		return nil, nil
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if cfg.QueueURL == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.QueueURL)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) error {
	cfg := app.Config

	var runRepo runs.Repo
	if app.DB != nil {
		runRepo = &runs.PGRepo{DB: app.DB}
	} else {
		runRepo = runs.NewMemoryRepo()
	}

	resolver := workspaces.NewResolver(cfg.WorkspacesDir)
	pool := credentials.NewPool(cfg.CredentialPrefix, cfg.CredentialSlots)
	supervisor := &engine.Supervisor{
		Command:          cfg.EngineCommand,
		Args:             cfg.EngineArgs,
		Timeout:          cfg.EngineTimeout,
		ModulePath:       cfg.EngineModulePath,
		ModulePathVar:    cfg.EngineModulePathVar,
		CredentialPrefix: cfg.CredentialPrefix,
	}

	svc := &analyses.Service{
		Locator: workspaces.NewLocator(resolver),
		Credentials: analyses.CollectorFunc(func() []string {
			return pool.Collect(credentials.EnvSource{})
		}),
		Runner:     supervisor,
		Reports:    reports.NewStore(resolver),
		Runs:       runRepo,
		Archive:    reports.NewArchive(app.Store),
		Queue:      app.Queue,
		Contention: cfg.AnalysisContention,
	}

	app.Resolver = resolver
	app.Supervisor = supervisor
	app.Runs = runRepo
	app.AnalysesService = svc
	app.AnalysisHandler = analyses.NewHandler(svc, server.AnalysisRateLimit(cfg))
	app.Health = health.NewService(cfg.WorkspacesDir, cfg.EngineCommand, app.DB)

	if app.AnalysisHandler == nil {
		return errors.New("failed to initialize handlers")
	}
	return nil
}

package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"docstore-backend/internal/dedup"
	"docstore-backend/internal/documents"
	"docstore-backend/internal/ingest"
	"docstore-backend/internal/jobs"
	"docstore-backend/internal/shared/auth"
	"docstore-backend/internal/shared/config"
	"docstore-backend/internal/shared/metrics"
	"docstore-backend/internal/shared/server"
	"docstore-backend/internal/shared/server/middleware"
	"docstore-backend/internal/shared/storage/db"
	"docstore-backend/internal/shared/storage/object"
	localstore "docstore-backend/internal/shared/storage/object/local"
	s3store "docstore-backend/internal/shared/storage/object/s3"
	"docstore-backend/internal/shared/telemetry"
)

const (
	janitorEvery    = time.Hour
	stuckCheckEvery = 5 * time.Minute
)

// App holds shared dependencies and the background loops that serve them.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Redis            *redis.Client
	Store            object.ObjectStore
	DocumentsRepo    documents.Registry
	JobStore         jobs.Store
	DocumentsService *documents.Service
	JobsService      *jobs.Service
	Resolver         *dedup.Resolver
	Scheduler        *ingest.Scheduler
	DocumentsHandler *documents.Handler
	IngestHandler    *ingest.Handler
	Keys             *auth.Keyring

	stop context.CancelFunc
	done chan struct{}
}

// Build wires configuration into services, handlers, and the router.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if err := telemetry.Init(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	keys, err := auth.NewKeyring(cfg.JWTSecret, cfg.Env)
	if err != nil {
		return nil, err
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, closeAll(err, sqlDB, nil)
	}

	jobStore, redisClient, err := BuildJobStore(ctx, cfg, sqlDB)
	if err != nil {
		return nil, closeAll(err, sqlDB, nil)
	}

	app := &App{
		Config:   cfg,
		DB:       sqlDB,
		Redis:    redisClient,
		Store:    store,
		JobStore: jobStore,
		Keys:     keys,
	}
	if err := buildServices(app); err != nil {
		return nil, closeAll(err, sqlDB, redisClient)
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		Keys:            keys,
		DocumentHandler: app.DocumentsHandler,
		IngestHandler:   app.IngestHandler,
		Limiter:         middleware.NewRateLimiter(nil),
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":          cfg.Env,
		"object_store": cfg.ObjectStoreType,
		"database":     sqlDB != nil,
		"job_store":    jobStoreName(jobStore),
		"workers":      cfg.Ingest.Workers,
		"queue_depth":  cfg.Ingest.QueueDepth,
	})
	return app, nil
}

// Start launches the janitor and the stuck-job gauge. It is safe to call once.
func (a *App) Start(ctx context.Context) {
	if a.stop != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		done := make(chan struct{})
		go func() {
			a.JobsService.RunJanitor(loopCtx, janitorEvery)
			close(done)
		}()
		watchStuck(loopCtx, a.JobsService, stuckCheckEvery)
		<-done
	}()
}

// Shutdown drains the scheduler, stops background loops, and closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.Scheduler != nil {
		err = multierr.Append(err, a.Scheduler.Shutdown(ctx))
	}
	if a.stop != nil {
		a.stop()
		<-a.done
	}
	err = multierr.Append(err, closeAll(nil, a.DB, a.Redis))
	telemetry.Sync()
	return err
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.db.memory", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, errors.New("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// BuildJobStore resolves JOB_STORE. "auto" prefers Redis when REDIS_URL is set, then
// Postgres when a database is connected, then memory.
func BuildJobStore(ctx context.Context, cfg config.Config, sqlDB *sql.DB) (jobs.Store, *redis.Client, error) {
	kind := cfg.Jobs.StoreType
	if kind == "" || kind == "auto" {
		switch {
		case strings.TrimSpace(cfg.Jobs.RedisURL) != "":
			kind = "redis"
		case sqlDB != nil:
			kind = "postgres"
		default:
			kind = "memory"
		}
	}

	switch kind {
	case "redis":
		if strings.TrimSpace(cfg.Jobs.RedisURL) == "" {
			return nil, nil, errors.New("JOB_STORE=redis requires REDIS_URL")
		}
		client, err := jobs.NewRedisClient(ctx, cfg.Jobs.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return jobs.NewRedisStore(client, cfg.Jobs.Retention), client, nil
	case "postgres":
		if sqlDB == nil {
			return nil, nil, errors.New("JOB_STORE=postgres requires DATABASE_URL")
		}
		return &jobs.PGStore{DB: sqlDB}, nil, nil
	default:
		return jobs.NewMemoryStore(), nil, nil
	}
}

func buildServices(app *App) error {
	var docRepo documents.Registry
	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
	} else {
		docRepo = documents.NewMemoryRepo()
	}

	resolver := dedup.NewResolver(docRepo, app.Store)
	scheduler, err := ingest.NewScheduler(ingest.Config{
		MaxUploadBytes:    app.Config.Upload.MaxSizeBytes,
		AllowedExtensions: app.Config.Upload.AllowedExtensions,
		Workers:           app.Config.Ingest.Workers,
		QueueDepth:        app.Config.Ingest.QueueDepth,
		JobTimeout:        app.Config.Ingest.JobTimeout,
		HashChunk:         app.Config.Ingest.HashChunkBytes,
	}, app.JobStore, resolver)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	docSvc := documents.NewService(app.Store, docRepo)
	jobsSvc := jobs.NewService(app.JobStore, app.Config.Jobs.Retention, app.Config.Jobs.StuckAfter)

	app.DocumentsRepo = docRepo
	app.Resolver = resolver
	app.Scheduler = scheduler
	app.DocumentsService = docSvc
	app.JobsService = jobsSvc
	app.DocumentsHandler = documents.NewHandler(docSvc)
	app.IngestHandler = ingest.NewHandler(scheduler, jobsSvc, app.Config.Upload.MaxSizeBytes)
	return nil
}

func watchStuck(ctx context.Context, svc *jobs.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stuck, err := svc.Stuck(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					telemetry.Error("jobs.stuck.failed", map[string]any{"error": err})
				}
				continue
			}
			metrics.SetStuck(len(stuck))
		}
	}
}

func closeAll(err error, sqlDB *sql.DB, client *redis.Client) error {
	if sqlDB != nil {
		err = multierr.Append(err, sqlDB.Close())
	}
	if client != nil {
		err = multierr.Append(err, client.Close())
	}
	return err
}

func jobStoreName(store jobs.Store) string {
	switch store.(type) {
	case *jobs.RedisStore:
		return "redis"
	case *jobs.PGStore:
		return "postgres"
	default:
		return "memory"
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

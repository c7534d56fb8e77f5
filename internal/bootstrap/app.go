package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/ingest"
	"docparse-backend/internal/queue"
	"docparse-backend/internal/reconcile"
	"docparse-backend/internal/services/health"
	"docparse-backend/internal/shared/config"
	"docparse-backend/internal/shared/server"
	"docparse-backend/internal/shared/storage/db"
	"docparse-backend/internal/shared/storage/object"
	gcsstore "docparse-backend/internal/shared/storage/object/gcs"
	localstore "docparse-backend/internal/shared/storage/object/local"
	miniostore "docparse-backend/internal/shared/storage/object/minio"
	s3store "docparse-backend/internal/shared/storage/object/s3"
)

const defaultAWSRegion = "us-east-1"

// App holds shared dependencies and the HTTP router.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Store            object.ObjectStore
	Trigger          queue.Trigger
	DocumentsRepo    documents.Repo
	DocumentsService *documents.Service
	Gateway          *ingest.Gateway
	Sweeper          *reconcile.Sweeper
	DocumentsHandler *documents.Handler
	IngestHandler    *ingest.Handler
	Health           *health.Service

	closers []func() error
}

// Build prepares dependencies from cfg and wires routes.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if strings.TrimSpace(cfg.MetadataStore) == "" {
		cfg.MetadataStore = "auto"
	}
	if strings.TrimSpace(cfg.AWSRegion) == "" {
		cfg.AWSRegion = defaultAWSRegion
	}
	ctx := context.Background()
	app := &App{Config: cfg}

	if err := app.buildMetadata(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	store, err := app.buildStore(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Store = store

	trigger, err := app.buildTrigger(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Trigger = trigger

	app.DocumentsService = documents.NewService(app.DocumentsRepo)
	app.Gateway = ingest.NewGateway(app.Store, app.DocumentsRepo, app.Trigger, cfg.MaxUploadBytes)
	app.Sweeper = reconcile.NewSweeper(app.DocumentsService, cfg.ReconcileStaleAfter)
	app.DocumentsHandler = documents.NewHandler(app.DocumentsService)
	app.IngestHandler = ingest.NewHandler(app.Gateway)

	var pinger health.Pinger
	if app.DB != nil {
		pinger = app.DB
	}
	app.Health = health.NewService(pinger, cfg.MetadataStore, cfg.ObjectStoreType)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		DocumentHandler: app.DocumentsHandler,
		IngestHandler:   app.IngestHandler,
		Health:          app.Health,
		Images:          app.DocumentsRepo,
	})

	return app, nil
}

// Close waits for in-flight triggers and releases clients.
func (a *App) Close() error {
	if a.Gateway != nil {
		a.Gateway.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildMetadata(ctx context.Context) error {
	cfg := a.Config
	switch cfg.MetadataStore {
	case "memory":
		a.Config.MetadataStore = "memory"
		a.DocumentsRepo = documents.NewMemoryRepo()
		return nil
	case "firestore":
		repo, err := documents.NewFirestoreRepo(ctx, cfg.GCPProjectID, cfg.FirestoreCollection)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, repo.Close)
		a.DocumentsRepo = repo
		return nil
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return err
	}
	if sqlDB == nil {
		a.Config.MetadataStore = "memory"
		a.DocumentsRepo = documents.NewMemoryRepo()
		return nil
	}
	a.DB = sqlDB
	if !db.IsLambdaRuntime() {
		a.closers = append(a.closers, sqlDB.Close)
	}
	a.Config.MetadataStore = "postgres"
	a.DocumentsRepo = &documents.PGRepo{DB: sqlDB}
	return nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.MetadataStore == "auto" && isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if cfg.MetadataStore == "auto" && isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func (a *App) buildStore(ctx context.Context) (object.ObjectStore, error) {
	cfg := a.Config
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "gcs":
		store, err := gcsstore.New(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "minio":
		return miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func (a *App) buildTrigger(ctx context.Context) (queue.Trigger, error) {
	cfg := a.Config
	switch cfg.Trigger {
	case "sqs":
		return queue.NewSQSTrigger(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	case "redis":
		trigger, rdb, err := queue.NewRedisTrigger(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisQueueKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return trigger, nil
	case "workflows":
		trigger, err := queue.NewWorkflowsTrigger(ctx, cfg.GCPProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, trigger.Close)
		return trigger, nil
	case "http":
		return queue.NewCloudEventTrigger(cfg.WorkerWebhookURL, cfg.WorkerToken)
	default:
		if cfg.Env == "production" {
			log.Printf("bootstrap: TRIGGER=none; image uploads will wait for the reconciler")
		}
		return queue.Noop{}, nil
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

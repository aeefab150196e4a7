package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"designscore-backend/internal/ai"
	"designscore-backend/internal/ai/openai"
	"designscore-backend/internal/ai/perplexity"
	"designscore-backend/internal/evaluations"
	"designscore-backend/internal/shared/config"
	"designscore-backend/internal/shared/server"
	"designscore-backend/internal/shared/storage/db"
	"designscore-backend/internal/shared/storage/object"
	localstore "designscore-backend/internal/shared/storage/object/local"
	s3store "designscore-backend/internal/shared/storage/object/s3"
)

// App holds shared dependencies.
type App struct {
	Config            config.Config
	Router            *gin.Engine
	DB                *sql.DB
	Store             object.ObjectStore
	EvaluationRepo    evaluations.Repo
	EvaluationService *evaluations.Service
	EvaluationHandler *evaluations.Handler
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	vision, scoring, err := buildAIClients(cfg)
	if err != nil {
		return nil, err
	}

	var repo evaluations.Repo
	if sqlDB != nil {
		repo = &evaluations.PGRepo{DB: sqlDB}
	} else {
		repo = evaluations.NewMemoryRepo()
	}

	svc := &evaluations.Service{
		Repo:              repo,
		Store:             store,
		Vision:            vision,
		Scoring:           scoring,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}
	handler := evaluations.NewHandler(svc)

	app := &App{
		Config:            cfg,
		DB:                sqlDB,
		Store:             store,
		EvaluationRepo:    repo,
		EvaluationService: svc,
		EvaluationHandler: handler,
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:            cfg,
		EvaluationHandler: handler,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
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

func buildAIClients(cfg config.Config) (ai.VisionClient, ai.ScoringClient, error) {
	vision, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.VisionModel)
	if err != nil {
		return nil, nil, fmt.Errorf("vision client: %w", err)
	}
	scoring, err := perplexity.NewClient(cfg.PerplexityAPIKey, cfg.ScoringModel)
	if err != nil {
		return nil, nil, fmt.Errorf("scoring client: %w", err)
	}
	return vision, scoring, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

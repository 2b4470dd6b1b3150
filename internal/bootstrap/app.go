package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"letterlab-backend/internal/admin"
	"letterlab-backend/internal/archive"
	"letterlab-backend/internal/chat"
	"letterlab-backend/internal/labsessions"
	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/llm/anthropic"
	"letterlab-backend/internal/llm/openai"
	"letterlab-backend/internal/progress"
	"letterlab-backend/internal/prompts"
	"letterlab-backend/internal/queue"
	"letterlab-backend/internal/relay"
	"letterlab-backend/internal/shared/config"
	"letterlab-backend/internal/shared/idempotency"
	"letterlab-backend/internal/shared/server"
	"letterlab-backend/internal/shared/storage/db"
	"letterlab-backend/internal/shared/storage/object"
	localstore "letterlab-backend/internal/shared/storage/object/local"
	s3store "letterlab-backend/internal/shared/storage/object/s3"
	"letterlab-backend/internal/shared/telemetry"
	"letterlab-backend/internal/tokens"
)

const llmRetryAttempts = 3

// App holds shared dependencies and the HTTP router.
type App struct {
	Config      config.Config
	Router      *gin.Engine
	DB          *sql.DB
	Store       object.ObjectStore
	Queue       queue.Client
	LLM         llm.Client
	Redis       *redis.Client
	Idempotency idempotency.Store
	Events      *progress.Bus

	ProgressRepo progress.Repo
	Prompts      *prompts.Service
	Tokens       *tokens.Service
	Sessions     *labsessions.Service
	Archive      *archive.Service
	Chat         *chat.Service
	Health       *admin.Health
	Relay        *relay.Handler
}

// Build wires every dependency and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	telemetry.Configure(cfg.LogFile)
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
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
	llmClient, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
		LLM:    llmClient,
	}
	if err := buildServices(app); err != nil {
		app.Close()
		return nil, err
	}
	if err := buildRouter(app); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Close releases background resources.
func (a *App) Close() {
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			log.Printf("bootstrap: close events: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil && !db.IsLambdaRuntime() {
		_ = a.DB.Close()
	}
	_ = telemetry.Sync()
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if config.IsDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	profile := db.RuntimeProfile()
	opts := db.OptionsFromEnv(db.OptionsFor(profile))
	if profile == db.ProfileLambda {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, s3store.Config{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// buildQueue returns a nil interface when no queue is configured so archive
// jobs run inline.
func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return nil, nil
	}
	client, err := queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	var (
		base llm.Client
		err  error
	)
	switch cfg.LLMProvider {
	case "openai":
		base, err = openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel)
	case "anthropic":
		base, err = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.LLMModel)
	default:
		return llm.DisabledClient{}, nil
	}
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			log.Printf("bootstrap: %s client unavailable; generation disabled: %v", cfg.LLMProvider, err)
			return llm.DisabledClient{}, nil
		}
		return nil, err
	}
	return llm.Instrumented(llm.WithRetry(base, llmRetryAttempts)), nil
}

func buildServices(app *App) error {
	cfg := app.Config

	var (
		promptRepo   prompts.Repo
		progressRepo progress.Repo
		tokenRepo    tokens.Repo
		sessionRepo  labsessions.Repo
	)
	if app.DB != nil {
		promptRepo = &prompts.PGRepo{DB: app.DB}
		progressRepo = &progress.PGRepo{DB: app.DB}
		tokenRepo = &tokens.PGRepo{DB: app.DB}
		sessionRepo = &labsessions.PGRepo{DB: app.DB}
	} else {
		promptRepo = prompts.NewMemoryRepo()
		progressRepo = progress.NewMemoryRepo()
		tokenRepo = tokens.NewMemoryRepo()
		sessionRepo = labsessions.NewMemoryRepo()
	}

	defaults, err := prompts.LoadDefaults(cfg.PromptSeedFile)
	if err != nil {
		return err
	}
	promptSvc, err := prompts.NewService(promptRepo, defaults)
	if err != nil {
		return err
	}

	bus, err := progress.NewBus(progressRepo)
	if err != nil {
		return fmt.Errorf("progress bus: %w", err)
	}
	app.Events = bus
	app.ProgressRepo = progressRepo

	tokenSvc := tokens.NewService(tokenRepo, bus)
	sessionSvc := labsessions.NewService(sessionRepo, promptSvc, app.LLM, tokenSvc, bus, nil)
	archiveSvc := archive.NewService(sessionSvc, app.Store, app.Queue)
	sessionSvc.Archiver = archiveSvc

	if strings.TrimSpace(cfg.RedisURL) != "" {
		app.Redis = idempotency.NewRedisClient(cfg.RedisURL)
		app.Idempotency = idempotency.NewRedisStore(app.Redis, cfg.IdempotencyTTL)
	} else {
		app.Idempotency = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	app.Prompts = promptSvc
	app.Tokens = tokenSvc
	app.Sessions = sessionSvc
	app.Archive = archiveSvc
	app.Chat = chat.NewService(promptSvc, app.LLM, bus)
	app.Relay = relay.NewHandler(app.Store, relay.NewProxy(cfg.RelayBackendURL), sessionSvc)
	app.Health = buildHealth(app)
	return nil
}

func buildHealth(app *App) *admin.Health {
	h := admin.NewHealth()

	var dbProbe admin.Probe
	if app.DB != nil {
		dbProbe = app.DB.PingContext
	}
	h.Add("database", dbProbe)
	h.Add("object_store", app.Store.Ping)
	h.Add("llm", func(context.Context) error {
		if app.LLM.Name() == (llm.DisabledClient{}).Name() {
			return admin.ErrDisabled
		}
		return nil
	})

	var queueProbe admin.Probe
	if app.Queue != nil {
		queueProbe = app.Queue.Ping
	}
	h.Add("queue", queueProbe)

	h.Add("idempotency", func(ctx context.Context) error {
		if app.Redis == nil {
			return nil
		}
		return app.Redis.Ping(ctx).Err()
	})
	h.Add("events", app.Events.Ping)
	if app.Relay.Proxy != nil {
		h.Add("relay_backend", app.Relay.Proxy.Ping)
	}
	return h
}

func buildRouter(app *App) error {
	cfg := app.Config
	secure := !config.IsDevLike(cfg.Env)

	creds, err := admin.NewCredentials(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return fmt.Errorf("admin credentials: %w", err)
	}
	if creds.PasswordHash == "" {
		log.Printf("bootstrap: no admin password configured; password login disabled")
	}
	adminHandler := admin.NewHandler(creds, app.Sessions, app.Health, secure)
	adminHandler.Google = admin.NewGoogleService(admin.GoogleConfig{
		ClientID:      cfg.GoogleClientID,
		ClientSecret:  cfg.GoogleClientSecret,
		RedirectURL:   cfg.GoogleRedirectURL,
		UIRedirect:    cfg.UIRedirectURL,
		AllowedEmails: cfg.AdminGoogleEmails,
		SecureCookies: secure,
	})

	app.Router = server.NewRouter(server.RouterDeps{
		Config:       cfg,
		TokenChecker: app.Tokens,
		Idempotency:  app.Idempotency,
		Sessions:     labsessions.NewHandler(app.Sessions),
		Chat:         chat.NewHandler(app.Chat),
		Tokens:       tokens.NewHandler(app.Tokens, secure),
		Prompts:      prompts.NewHandler(app.Prompts),
		Progress:     progress.NewHandler(app.ProgressRepo, app.Sessions),
		Admin:        adminHandler,
		Relay:        app.Relay,
	})
	if app.Router == nil {
		return errors.New("failed to initialize router")
	}
	return nil
}

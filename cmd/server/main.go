package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/agentarena/api/internal/auth"
	"github.com/agentarena/api/internal/client"
	"github.com/agentarena/api/internal/config"
	"github.com/agentarena/api/internal/domain"
	"github.com/agentarena/api/internal/handler"
	"github.com/agentarena/api/internal/middleware"
	"github.com/agentarena/api/internal/queue"
	"github.com/agentarena/api/internal/runner"
	"github.com/agentarena/api/internal/service"
	ws "github.com/agentarena/api/internal/websocket"
	"github.com/agentarena/api/pkg/response"
)

const (
	shutdownTimeout = 30 * time.Second
	httpDrainTime   = 10 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Server)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalogue, err := domain.Load(cfg.Experiment.DisabledDomains...)
	if err != nil {
		log.Error("failed to load domain catalogue", "error", err)
		os.Exit(1)
	}

	registry := client.NewRegistry(cfg.Providers, cfg.Experiment.DefaultTemperature, log)
	providers := registry.Available()
	if len(providers) == 0 {
		log.Warn("no model providers configured; experiments will fail until an API key is set")
	}

	// Object storage is optional
	var storage client.StorageClient
	if cfg.S3.Configured() {
		s3Client, err := client.NewS3Client(ctx, &cfg.S3)
		if err != nil {
			log.Warn("object storage disabled", "error", err)
		} else {
			storage = s3Client
			log.Info("object storage enabled", "bucket", cfg.S3.Bucket)
		}
	}

	// Redis backs the API rate limiter only
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var limiterStore redis.Cmdable = redisClient
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available, rate limiting disabled", "addr", cfg.Redis.Addr, "error", err)
		limiterStore = nil
	}

	// WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	// Runner and queue
	experimentRunner := runner.New(registry, catalogue, runner.Options{
		ResultsDir:         cfg.Storage.ResultsPath,
		DatasetsDir:        cfg.Storage.DatasetsPath,
		MaxRows:            cfg.Experiment.MaxRows,
		RowConcurrency:     cfg.Experiment.RowConcurrency,
		DefaultMaxTurns:    cfg.Experiment.MaxTurns,
		DefaultTemperature: cfg.Experiment.DefaultTemperature,
		EnableAdversarial:  cfg.Experiment.EnableAdversarial,
		Uploader:           storage,
	}, log)

	recorder := queue.NewRecorder()
	experimentQueue := queue.New(experimentRunner,
		queue.WithMaxConcurrent(cfg.Queue.MaxConcurrent),
		queue.WithPollInterval(cfg.Queue.PollInterval),
		queue.WithErrorBackoff(cfg.Queue.ErrorBackoff),
		queue.WithTimeouts(cfg.Queue.StartTimeout, cfg.Queue.StopTimeout),
		queue.WithLogger(log),
		queue.WithNotifier(hub),
		queue.WithSummaryWriter(queue.NewFileSummaryWriter(cfg.Storage.ResultsPath, storage, log)),
		queue.WithRecorder(recorder),
	)

	// Services
	experimentService := service.NewExperimentService(experimentQueue, catalogue, providers, service.Settings{
		MaxTurns:          cfg.Experiment.MaxTurns,
		Temperature:       cfg.Experiment.DefaultTemperature,
		EnableAdversarial: cfg.Experiment.EnableAdversarial,
	}, log)

	validate := validator.New()

	// Authentication
	var verifier auth.TokenVerifier
	if cfg.OIDC.Issuer != "" {
		v, err := auth.NewJWKSVerifier(ctx, &cfg.OIDC, nil)
		if err != nil {
			log.Warn("oidc verifier unavailable, falling back to legacy tokens", "issuer", cfg.OIDC.Issuer, "error", err)
		} else {
			verifier = v
			defer v.Close()
		}
	}

	var authenticate fiber.Handler
	authMode := "legacy"
	switch {
	case !cfg.AuthEnabled():
		authenticate = middleware.Anonymous()
		authMode = "disabled"
		log.Warn("authentication disabled for development")
	case cfg.Gateway.Enabled:
		authenticate = middleware.GatewayAuthMiddleware()
		authMode = "gateway"
	case verifier != nil:
		authenticate = middleware.NewAuthMiddlewareWithFallback(verifier, cfg.JWT.Secret).Authenticate()
		authMode = "oidc"
	default:
		authenticate = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}

	healthHandler := handler.NewHealthHandler(handler.HealthInfo{
		Providers: providers,
		Storage:   storage != nil,
		Auth:      authMode,
	})

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // inline datasets
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	handler.Register(app, handler.Routes{
		Experiments:  handler.NewExperimentHandler(experimentService, validate),
		Queue:        handler.NewQueueHandler(experimentService),
		Config:       handler.NewConfigHandler(experimentService),
		Health:       healthHandler,
		Auth:         handler.NewAuthHandler(verifier, cfg.JWT.Secret),
		Authenticate: authenticate,
		RateLimiter:  middleware.NewRateLimiter(limiterStore, log),
		Limits:       cfg.RateLimit,
		Metrics:      promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{}),
		Hub:          hub,
	})

	if cfg.Queue.AutoStart {
		experimentQueue.Start()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")

		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := experimentQueue.Shutdown(stopCtx); err != nil {
			log.Warn("queue shutdown incomplete", "error", err)
		}
		cancel()

		if err := app.ShutdownWithTimeout(httpDrainTime); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env, "auth", authMode, "providers", providers)
	if err := app.Listen(addr); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errorCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errorCode = response.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		errorCode = response.CodeValidationError
	}

	return response.Error(c, code, errorCode, message, nil)
}

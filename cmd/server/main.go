package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/anonymize"
	"github.com/bestfriendai/SupaSecret-sub010/internal/auth"
	"github.com/bestfriendai/SupaSecret-sub010/internal/capture"
	"github.com/bestfriendai/SupaSecret-sub010/internal/caption"
	"github.com/bestfriendai/SupaSecret-sub010/internal/client"
	"github.com/bestfriendai/SupaSecret-sub010/internal/config"
	"github.com/bestfriendai/SupaSecret-sub010/internal/handler"
	"github.com/bestfriendai/SupaSecret-sub010/internal/logger"
	"github.com/bestfriendai/SupaSecret-sub010/internal/middleware"
	"github.com/bestfriendai/SupaSecret-sub010/internal/pipeline"
	"github.com/bestfriendai/SupaSecret-sub010/internal/service"
	"github.com/bestfriendai/SupaSecret-sub010/internal/storage"
	"github.com/bestfriendai/SupaSecret-sub010/internal/worker"
	ws "github.com/bestfriendai/SupaSecret-sub010/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warnf("Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Scratch store for session media; leftovers from a previous run are
	// unrecoverable and get swept on boot.
	scratch, err := storage.NewScratchStore(cfg.Capture.ScratchDir)
	if err != nil {
		log.Fatalf("Failed to initialize scratch store: %v", err)
	}
	if swept, err := scratch.Sweep(); err != nil {
		log.Warnf("Scratch sweep failed: %v", err)
	} else if swept > 0 {
		log.Infof("Swept %d orphaned session directories", swept)
	}

	// Capture device. The stub stands in for a platform camera binding.
	device := &capture.StubDevice{RealtimeFilter: cfg.Capture.RealtimeFilter}

	// Transform engine
	transformer := anonymize.NewFFmpegTransformer(
		cfg.Transform.FFmpegBin,
		cfg.Transform.FFprobeBin,
		logger.ForComponent(log, "ffmpeg"),
	)
	engine := anonymize.NewEngine(transformer, logger.ForComponent(log, "anonymize"))
	if !transformer.IsAvailable() {
		log.Warn("ffmpeg not found, anonymization capability unavailable")
	}

	// Transcription client and caption generator
	transcribeClient := client.NewTranscribeClient(&cfg.Transcribe, logger.ForComponent(log, "transcribe"))
	if !transcribeClient.IsConfigured() {
		log.Info("Transcription not configured, captions will be skipped")
	}
	generator := caption.NewGenerator(
		transcribeClient,
		caption.NewFFmpegExtractor(cfg.Transform.FFmpegBin),
		time.Duration(cfg.Pipeline.PollIntervalSec)*time.Second,
		cfg.Pipeline.PollMaxAttempts,
		cfg.Pipeline.CaptionWindow,
		logger.ForComponent(log, "caption"),
	)

	// Initialize R2 client (optional - continues if not configured)
	var storageClient client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warnf("R2 client not initialized: %v", err)
		} else {
			storageClient = r2Client
		}
	} else {
		log.Info("R2 storage not configured, using mock publishing")
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Warnf("JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Pipeline orchestration
	manager := pipeline.NewManager(
		device,
		scratch,
		hub,
		time.Duration(cfg.Capture.MaxDurationSec)*time.Second,
		logger.ForComponent(log, "pipeline"),
	)
	pipelineService := service.NewPipelineService(redisClient, asynqClient, manager)

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(manager, pipelineService, validate)
	jobsHandler := handler.NewJobsHandler(pipelineService)

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Info("Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // 50MB
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"transform":  transformer.IsAvailable(),
				"transcribe": transcribeClient.IsConfigured(),
				"r2":         storageClient != nil,
				"auth":       jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Session routes
	sessions := api.Group("/sessions")
	sessions.Post("/", rateLimiter.SessionLimit(cfg.RateLimit.SessionsPerHour), sessionHandler.Start)
	sessions.Get("/:id", sessionHandler.Get)
	sessions.Post("/:id/stop", sessionHandler.Stop)
	sessions.Post("/:id/anonymize", sessionHandler.Anonymize)
	sessions.Post("/:id/captions", sessionHandler.Captions)
	sessions.Post("/:id/publish", rateLimiter.PublishLimit(cfg.RateLimit.PublishPerHour), sessionHandler.Publish)
	sessions.Post("/:id/discard", sessionHandler.Discard)
	sessions.Post("/:id/retake", sessionHandler.Retake)

	// Job routes
	jobs := api.Group("/jobs")
	jobs.Get("/status/:jobId", jobsHandler.Status)
	jobs.Get("/result/:jobId", jobsHandler.Result)
	jobs.Post("/cancel/:jobId", jobsHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/sessions/:id", websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("id")
		hub.HandleConnection(c, sessionID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, pipelineService, manager, engine, generator, storageClient, scratch, log)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Infof("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	pipelineService *service.PipelineService,
	manager *pipeline.Manager,
	engine *anonymize.Engine,
	generator *caption.Generator,
	storageClient client.StorageClient,
	scratch *storage.ScratchStore,
	log *logrus.Logger,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"transform": 5,
				"publish":   3,
				"caption":   2,
			},
			LogLevel: asynqLogLevel,
		},
	)

	transformWorker := worker.NewTransformWorker(
		pipelineService,
		manager,
		engine,
		generator,
		scratch,
		time.Duration(cfg.Transform.TimeoutSec)*time.Second,
		logger.ForComponent(log, "worker.transform"),
	)
	publishWorker := worker.NewPublishWorker(
		pipelineService,
		manager,
		engine,
		generator,
		storageClient,
		scratch,
		cfg.Pipeline.UploadMaxRetries,
		logger.ForComponent(log, "worker.publish"),
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTransform, transformWorker.ProcessTransform)
	mux.HandleFunc(service.TaskTypeCaption, transformWorker.ProcessCaption)
	mux.HandleFunc(service.TaskTypePublish, publishWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Errorf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}

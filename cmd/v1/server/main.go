package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ludoverse/backend/internal/v1/auth"
	"github.com/ludoverse/backend/internal/v1/cache"
	"github.com/ludoverse/backend/internal/v1/config"
	"github.com/ludoverse/backend/internal/v1/health"
	"github.com/ludoverse/backend/internal/v1/logging"
	"github.com/ludoverse/backend/internal/v1/middleware"
	"github.com/ludoverse/backend/internal/v1/presence"
	"github.com/ludoverse/backend/internal/v1/ratelimit"
	"github.com/ludoverse/backend/internal/v1/roomsvc"
	"github.com/ludoverse/backend/internal/v1/store"
	"github.com/ludoverse/backend/internal/v1/tracing"
	"github.com/ludoverse/backend/internal/v1/transport"
	"github.com/ludoverse/backend/internal/v1/types"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	ctx := context.Background()

	// --- Tracing (optional) ---
	var tracerProvider *sdktrace.TracerProvider
	if cfg.OtelCollectorAddr != "" {
		tracerProvider, err = tracing.InitTracer(ctx, "ludoverse-backend", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			slog.Info("✅ OTLP trace export enabled", "collector", cfg.OtelCollectorAddr)
		}
	}

	// --- Postgres ---
	if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Postgres connected")

	// --- Redis Cache Initialization (Optional) ---
	var cacheService *cache.Service
	if cfg.RedisEnabled {
		cacheService, err = cache.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running without cache", "error", err)
			cacheService = nil // Postgres remains the source of truth
		} else {
			slog.Info("✅ Redis cache initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running without Redis cache (disabled)")
	}

	// --- Auth ---
	var validator types.TokenValidator
	if cfg.SkipAuth {
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	} else {
		authValidator, err := auth.NewValidator(ctx, cfg.SupabaseURL)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			os.Exit(1)
		}
		slog.Info("✅ Supabase JWKS validator initialized", "url", cfg.SupabaseURL)
		validator = authValidator
	}

	// --- Rate limiting ---
	var limiterRedis *redis.Client
	if cacheService != nil {
		limiterRedis = cacheService.Client()
	}
	limiter, err := ratelimit.New(cfg, limiterRedis)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Services and Hub ---
	rooms := roomsvc.New(st, cacheService)
	tracker := presence.NewTracker(cacheService)

	allowedOrigins := auth.GetAllowedOriginsFromEnv(cfg.AllowedOrigins, []string{"http://localhost:3000"})

	hub := transport.NewHub(validator, rooms, tracker, limiter, transport.Options{
		AllowedOrigins:    allowedOrigins,
		AuthTimeout:       cfg.AuthTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ConnectionTimeout: cfg.ConnectionTimeout,
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go hub.Run(runCtx)

	// --- Set up Server ---
	router := gin.Default()
	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Correlation IDs and error handling
	router.Use(middleware.CorrelationID())
	router.Use(gin.Recovery())
	if tracerProvider != nil {
		router.Use(otelgin.Middleware("ludoverse-backend"))
	}

	// Routing
	wsGroup := router.Group("/api/v1")
	{
		wsGroup.GET("/ws", hub.ServeWs)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	var cachePinger health.Pinger
	if cacheService != nil {
		cachePinger = cacheService
	}
	healthHandler := health.NewHandler(st, cachePinger)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopRun()

	// Close all active WebSocket connections gracefully
	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close backing connections
	if cacheService != nil {
		if err := cacheService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}
	st.Close()

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to flush tracer provider:", "error", err)
		}
	}

	slog.Info("Server exiting")
}

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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gridlands/pusher/internal/v1/admin"
	"github.com/gridlands/pusher/internal/v1/auth"
	"github.com/gridlands/pusher/internal/v1/back"
	"github.com/gridlands/pusher/internal/v1/bus"
	"github.com/gridlands/pusher/internal/v1/config"
	"github.com/gridlands/pusher/internal/v1/embed"
	"github.com/gridlands/pusher/internal/v1/health"
	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/middleware"
	"github.com/gridlands/pusher/internal/v1/ratelimit"
	"github.com/gridlands/pusher/internal/v1/session"
	"github.com/gridlands/pusher/internal/v1/tracing"
	"github.com/gridlands/pusher/internal/v1/transport"
	"github.com/gridlands/pusher/internal/v1/types"
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

	// --- Tracing (Optional) ---
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.Setup(context.Background(), tracing.Options{
			ServiceName:   "pusher",
			Environment:   cfg.GoEnv,
			CollectorAddr: cfg.OtelCollectorAddr,
			Insecure:      cfg.OtelInsecure,
		})
		if err != nil {
			slog.Warn("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					slog.Error("Failed to shut down tracer provider", "error", err)
				}
			}()
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
		}
	}

	// --- Token Validation ---
	var validator types.TokenValidator
	if cfg.SkipAuth {
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(context.Background(), cfg.AuthDomain, cfg.AuthAudience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			os.Exit(1)
		}
		slog.Info("✅ Token validator initialized", "domain", cfg.AuthDomain, "audience", cfg.AuthAudience)
		validator = v
	}

	// --- Redis (Optional) ---
	// Backs the distributed rate limiter store; without it limits are
	// per-replica.
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, rate limits will be per-replica", "error", err)
			busService = nil
		} else {
			slog.Info("✅ Redis initialized for distributed rate limiting", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Back Pool and Session Layer ---
	directory, err := back.NewDirectory(cfg.BackAddrs)
	if err != nil {
		slog.Error("Failed to create back directory", "error", err)
		os.Exit(1)
	}

	adminAPI := admin.NewClient(cfg.AdminAPIURL, cfg.AdminAPIToken)
	prober := embed.NewProber(cfg.EmbedDomainAllowlist)
	mux := session.NewMultiplexer(directory, adminAPI, prober, cfg.WatchdogTimeout)

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	hub := transport.NewHub(mux, mux, validator, rateLimiter, transport.HubConfig{
		AllowedOrigins:     allowedOrigins,
		BatchFlushInterval: cfg.BatchFlushInterval,
		BatchMaxSize:       cfg.BatchMaxSize,
	})

	// --- Set up Server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("pusher"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Routing
	wsGroup := router.Group("/ws", rateLimiter.GlobalMiddleware())
	{
		wsGroup.GET("/room", hub.ServeWs)
		wsGroup.GET("/admin/:roomId", rateLimiter.AdminMiddleware(), hub.ServeAdminWs)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busService, cfg.BackAddrs)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Pusher starting", "port", cfg.Port, "backs", cfg.BackAddrs)
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting upgrades, then close the sockets and drain the session
	// state behind them.
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during hub shutdown:", "error", err)
	}

	if err := mux.Shutdown(ctx); err != nil {
		slog.Error("Error during session shutdown:", "error", err)
	}

	directory.Close()

	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}

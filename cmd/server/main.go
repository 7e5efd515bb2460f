package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appdispatch "github.com/resale/backend/internal/application/dispatch"
	appsync "github.com/resale/backend/internal/application/sync"
	"github.com/resale/backend/internal/infrastructure/cache"
	"github.com/resale/backend/internal/infrastructure/config"
	"github.com/resale/backend/internal/infrastructure/logger"
	"github.com/resale/backend/internal/infrastructure/persistence"
	"github.com/resale/backend/internal/infrastructure/providers"
	"github.com/resale/backend/internal/infrastructure/scheduler"
	"github.com/resale/backend/internal/infrastructure/telemetry"
	"github.com/resale/backend/internal/interfaces/http/handler"
	"github.com/resale/backend/internal/interfaces/http/middleware"
	"github.com/resale/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting dispatch backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize tracing
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Initialize database connection with zap-backed GORM logging
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Per-order dispatch lock backed by Redis, shared across instances
	orderLock, err := cache.NewRedisOrderLock(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	log.Info("Redis connected successfully")

	// Initialize repositories
	integrationRepo := persistence.NewGormIntegrationConfigRepository(db.DB)
	routeRepo := persistence.NewGormPackageRouteRepository(db.DB)
	orderRepo := persistence.NewGormOrderRepository(db.DB)
	snapshotRepo := persistence.NewGormSnapshotRepository(db.DB)

	// Provider drivers
	registry := providers.NewRegistry(log)

	// Application services
	resolver := appdispatch.NewResolver(routeRepo)
	engineService := appdispatch.NewEngine(orderRepo, resolver, integrationRepo, registry,
		orderLock, nil, log, appdispatch.Config{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			LockTTL:     cfg.Dispatch.LockTTL,
			BaseBackoff: cfg.Dispatch.BaseBackoff,
			MaxBackoff:  cfg.Dispatch.MaxBackoff,
		})
	syncService := appsync.NewService(integrationRepo, registry, snapshotRepo, log)

	// Dispatch worker pool
	executor := scheduler.NewEngineExecutor(engineService, log)
	dispatchScheduler, err := scheduler.NewDispatchScheduler(scheduler.DispatchSchedulerConfig{
		Enabled:      true,
		Workers:      cfg.Dispatch.Workers,
		QueueSize:    cfg.Dispatch.QueueSize,
		JobTimeout:   cfg.Dispatch.JobTimeout,
		PollInterval: cfg.Dispatch.PollInterval,
	}, executor, log)
	if err != nil {
		log.Fatal("Failed to create dispatch scheduler", zap.Error(err))
	}
	if err := dispatchScheduler.Start(context.Background()); err != nil {
		log.Fatal("Failed to start dispatch scheduler", zap.Error(err))
	}
	defer func() {
		if err := dispatchScheduler.Stop(context.Background()); err != nil {
			log.Error("Error stopping dispatch scheduler", zap.Error(err))
		}
	}()
	log.Info("Dispatch scheduler started",
		zap.Int("workers", cfg.Dispatch.Workers),
		zap.Duration("job_timeout", cfg.Dispatch.JobTimeout),
	)

	// Periodic delivery sweep: sent orders are re-checked against their
	// providers until they settle as delivered or failed
	deliveryPoller := scheduler.NewDeliveryPoller(engineService,
		cfg.Dispatch.StatusPollInterval, cfg.Dispatch.StatusBatchSize, log)
	if err := deliveryPoller.Start(context.Background()); err != nil {
		log.Fatal("Failed to start delivery poller", zap.Error(err))
	}
	defer func() {
		if err := deliveryPoller.Stop(context.Background()); err != nil {
			log.Error("Error stopping delivery poller", zap.Error(err))
		}
	}()
	log.Info("Delivery poller started",
		zap.Duration("interval", cfg.Dispatch.StatusPollInterval),
		zap.Int("batch_size", cfg.Dispatch.StatusBatchSize),
	)

	// Periodic balance/catalog sync
	syncTrigger := scheduler.NewSyncTrigger(syncService, cfg.Sync.Interval, log)
	if cfg.Sync.Enabled {
		if err := syncTrigger.Start(context.Background()); err != nil {
			log.Fatal("Failed to start sync trigger", zap.Error(err))
		}
		defer func() {
			if err := syncTrigger.Stop(context.Background()); err != nil {
				log.Error("Error stopping sync trigger", zap.Error(err))
			}
		}()
		log.Info("Snapshot sync started", zap.Duration("interval", cfg.Sync.Interval))
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack in order: request id, panic recovery, tracing,
	// request logging (needs the span for trace ids), security headers,
	// CORS, body limit
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORS())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db))

	// Register API routes
	dispatchHandler := handler.NewDispatchHandler(engineService, resolver, syncService,
		dispatchScheduler, syncTrigger)
	systemHandler := handler.NewSystemHandler()

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(dispatchHandler).
		Register(systemHandler)
	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Sohel123-png/fitgent-2.0/internal/api"
	"github.com/Sohel123-png/fitgent-2.0/internal/circuitbreaker"
	"github.com/Sohel123-png/fitgent-2.0/internal/config"
	"github.com/Sohel123-png/fitgent-2.0/internal/db"
	"github.com/Sohel123-png/fitgent-2.0/internal/dispatch"
	"github.com/Sohel123-png/fitgent-2.0/internal/metrics"
	"github.com/Sohel123-png/fitgent-2.0/internal/observ"
	"github.com/Sohel123-png/fitgent-2.0/internal/push"
	"github.com/Sohel123-png/fitgent-2.0/internal/redis"
	"github.com/Sohel123-png/fitgent-2.0/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting fitgent notification gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for dispatch leases and rate limiting. Optional: an
	// empty REDIS_HOST or an unreachable server disables both.
	var redisClient *redis.Client
	if cfg.RedisHost != "" {
		redisConfig := redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		redisClient, err = redis.New(ctx, redisConfig, logger)
		if err != nil {
			logger.Warn("redis unavailable, leases and rate limiting disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		}
	}

	var lease *redis.DispatchLease
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		lease = redis.NewDispatchLease(redisClient, logger)
		if cfg.RateLimit > 0 {
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimit,
				Window: 1 * time.Minute,
			})
		}
		defer redisClient.Close()
	}

	// Initialize the push gateway: SNS in production, simulated sends
	// otherwise. Either way it is wrapped in a circuit breaker so a broken
	// provider fails fast instead of eating the send timeout per device.
	var gateway push.Gateway
	if cfg.SNSEnabled {
		snsGateway, err := push.NewSNSGateway(ctx, push.SNSConfig{Region: cfg.AWSRegion}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SNS push gateway: %w", err)
		}
		gateway = snsGateway
	} else {
		gateway = push.NewLogGateway(logger)
		logger.Info("push delivery simulated, set SNS_ENABLED=true for real sends")
	}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("push-gateway"), logger)
	gateway = push.NewProtectedGateway(gateway, breaker, logger)

	// Initialize dispatcher
	dispatcher := dispatch.New(repo, gateway, dispatch.Config{
		SendTimeout:   cfg.PushTimeout,
		MaxConcurrent: cfg.DispatchConcurrency,
	}, logger)
	if lease != nil {
		dispatcher.WithLease(lease)
	}

	// Initialize the scheduler: meal reminders from user-configured rows,
	// plus the periodic sweep over due intents.
	mealProducer := scheduler.NewMealReminderProducer(repo, logger)
	sweeper := scheduler.New(repo, dispatcher, scheduler.Config{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatch,
	}, logger, mealProducer)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	go sweeper.Start(schedCtx)

	logger.Info("scheduler started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Int("batch", cfg.SweepBatch),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))

	// API routes
	handler := api.NewHandler(logger, repo, dispatcher, sweeper)

	var adminAuth func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		adminAuth = api.AdminAuthMiddleware([]byte(cfg.JWTSecret), logger)
	} else {
		logger.Warn("JWT_SECRET not set, admin endpoints are unprotected")
	}
	handler.Routes(r, adminAuth)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

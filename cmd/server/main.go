package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/roomcast/internal/api"
	"github.com/eldtechnologies/roomcast/internal/api/middleware"
	"github.com/eldtechnologies/roomcast/internal/auth"
	"github.com/eldtechnologies/roomcast/internal/config"
	"github.com/eldtechnologies/roomcast/internal/handlers"
	"github.com/eldtechnologies/roomcast/internal/hub"
	"github.com/eldtechnologies/roomcast/internal/presence"
	"github.com/eldtechnologies/roomcast/internal/session"
	"github.com/eldtechnologies/roomcast/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	dataStore := openStore(ctx, cfg, logger)
	defer dataStore.Close()

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Fan-out and presence; Redis relays events to other instances
	hubOpts := []hub.Option{hub.WithQueueSize(cfg.RoomQueue)}
	var mirror presence.Mirror
	var limiter *middleware.RateLimiter
	if redisStore != nil {
		hubOpts = append(hubOpts, hub.WithRelay(hub.NewRedisRelay(redisStore, logger)))
		mirror = redisStore
		limiter = middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
	}
	eventHub := hub.New(logger, hubOpts...)
	tracker := presence.NewTracker(mirror, logger)

	secret := cfg.JWTSecret
	if secret == "" {
		secret = "development-secret"
		logger.Warn().Msg("JWT_SECRET not set, using an insecure development secret")
	}

	// Sessions end when sessionsCtx is cancelled. The relay outlives them
	// so their goodbyes reach other instances.
	sessionsCtx, stopSessions := context.WithCancel(ctx)
	defer stopSessions()
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	var sessions sync.WaitGroup

	hubDone := make(chan error, 1)
	go func() { hubDone <- eventHub.Run(relayCtx) }()

	// Create router
	router := api.NewRouter(logger, handlers.Deps{
		Store:    dataStore,
		Redis:    redisStore,
		Hub:      eventHub,
		Tracker:  tracker,
		Logger:   logger,
		Shutdown: sessionsCtx,
		Sessions: &sessions,
		Session: session.Config{
			HistoryLimit:    cfg.HistoryLimit,
			SendBuffer:      cfg.SendBuffer,
			WriteTimeout:    cfg.WriteTimeout,
			PingInterval:    cfg.PingInterval,
			PongWait:        cfg.PongWait,
			CleanupTimeout:  cfg.CleanupTimeout,
			MaxMessageBytes: cfg.MaxMessageBytes,
			InboundRate:     rate.Limit(cfg.InboundRate),
			InboundBurst:    cfg.InboundBurst,
		},
	}, api.Options{
		Auth:        auth.NewJWTVerifier(secret),
		RateLimiter: limiter,
		MaxBody:     cfg.MaxMessageBytes,
	})

	// Create server. No WriteTimeout; sessions set their own write deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("driver", cfg.DatabaseDriver).
			Bool("redis", redisStore != nil).
			Msg("starting roomcast server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Live sessions close with 1001 and run their cleanup
	stopSessions()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	// Shutdown does not wait for hijacked connections
	sessionsDone := make(chan struct{})
	go func() {
		sessions.Wait()
		close(sessionsDone)
	}()
	select {
	case <-sessionsDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("sessions still running at shutdown deadline")
	}

	// Flushes queued events to other instances, then stops
	stopRelay()
	if err := <-hubDone; err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("hub relay stopped with error")
	}
	eventHub.Close()

	logger.Info().Msg("server stopped")
}

// openStore connects the configured durable store and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) store.DataStore {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
		return pgStore
	default:
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
		return sqliteStore
	}
}

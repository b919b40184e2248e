// Package main is the entry point for the MindLeap task hub worker. The
// worker owns the polling runtime: it submits generation jobs to the
// MindLeap backends, polls them to completion, caches completed results for
// offline fallback, publishes lifecycle events, and exposes the whole thing
// over a REST API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mindleap/mindleap-task-hub/config"
	"github.com/mindleap/mindleap-task-hub/internal/application/eventhandler"
	"github.com/mindleap/mindleap-task-hub/internal/application/polling"
	"github.com/mindleap/mindleap-task-hub/internal/domain/notification"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
	"github.com/mindleap/mindleap-task-hub/internal/infrastructure/external/mindleap"
	"github.com/mindleap/mindleap-task-hub/internal/infrastructure/messaging"
	"github.com/mindleap/mindleap-task-hub/internal/infrastructure/persistence/memory"
	"github.com/mindleap/mindleap-task-hub/internal/infrastructure/persistence/postgres"
	"github.com/mindleap/mindleap-task-hub/internal/infrastructure/persistence/redis"
	"github.com/mindleap/mindleap-task-hub/internal/infrastructure/scheduler"
	"github.com/mindleap/mindleap-task-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/mindleap/mindleap-task-hub/internal/interface/http"
	"github.com/mindleap/mindleap-task-hub/pkg/backoff"
	"github.com/mindleap/mindleap-task-hub/pkg/circuitbreaker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting MindLeap task hub worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// RESULT CACHE AND DEDUPE STORE
	// ─────────────────────────────────────────────────────────────────────────
	var (
		resultCache task.ResultCache
		dedupe      *notification.Deduplicator
	)

	if cfg.Redis.Disabled {
		log.Info("redis disabled, using in-memory result cache")
		resultCache = memory.NewResultCache(cfg.Cache.TTL)
		dedupe = notification.NewDeduplicator()
	} else {
		redisClient, err := redis.NewClient(redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("redis unavailable, falling back to in-memory cache", "error", err)
			resultCache = memory.NewResultCache(cfg.Cache.TTL)
			dedupe = notification.NewDeduplicator()
		} else {
			defer redisClient.Close()
			resultCache = redis.NewResultCache(redisClient, cfg.Cache.TTL)
			dedupe = notification.NewDeduplicatorWithStore(redis.NewDedupeStore(redisClient, 0))
			log.Info("redis connection established", "host", cfg.Redis.Host)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// POLL JOURNAL (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		journal   polling.Journal
		pgJournal *postgres.Journal
	)

	if cfg.Database.URL != "" {
		dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbConn.Close()

		pgJournal, err = postgres.NewJournal(ctx, dbConn)
		if err != nil {
			return fmt.Errorf("failed to initialize poll journal: %w", err)
		}
		journal = pgJournal
		log.Info("poll journal enabled")
	} else {
		log.Info("DATABASE_URL not set, poll journal disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// EVENT BUS AND LIFECYCLE HANDLER
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	lifecycle := eventhandler.NewLifecycleHandler(log)
	if err := lifecycle.RegisterWith(bus); err != nil {
		return fmt.Errorf("failed to subscribe lifecycle handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// MINDLEAP BACKEND CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	clientConfig := mindleap.DefaultClientConfig(map[task.Kind]string{
		task.KindLesson:              cfg.Backend.LessonURL,
		task.KindFinancialSimulation: cfg.Backend.SimulationURL,
		task.KindLearningQuery:       cfg.Backend.QueryURL,
	})
	clientConfig.APIKey = cfg.Backend.APIKey
	clientConfig.Timeout = cfg.Backend.RequestTimeout
	clientConfig.RateLimiterConfig.RequestsPerSecond = cfg.Backend.RateLimit
	clientConfig.RateLimiterConfig.BurstSize = cfg.Backend.RateLimitBurst
	clientConfig.BreakerOptions = []circuitbreaker.Option{
		circuitbreaker.WithFailureThreshold(cfg.Backend.BreakerThreshold),
		circuitbreaker.WithCooldown(cfg.Backend.BreakerCooldown),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	}
	clientConfig.Logger = log
	clientConfig.Debug = cfg.Backend.Debug

	client, err := mindleap.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create mindleap client: %w", err)
	}

	if client.IsHealthy(ctx) {
		log.Info("mindleap backends are healthy")
	} else {
		log.Warn("mindleap backends are unreachable, offline fallback will serve cached results")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// POLLING SERVICE
	// ─────────────────────────────────────────────────────────────────────────
	service, err := polling.NewService(polling.ServiceConfig{
		Backend:     client,
		Normalizers: client.Mapper().Normalizers(),
		Cache:       resultCache,
		Dedupe:      dedupe,
		Bus:         bus,
		Journal:     journal,
		Poller: polling.Options{
			IntervalBase: cfg.Poller.IntervalBase,
			MaxAttempts:  cfg.Poller.MaxAttempts,
			MaxElapsed:   cfg.Poller.MaxElapsed,
			Policy: backoff.New(
				backoff.WithSuccessBase(cfg.Poller.IntervalBase),
				backoff.WithFailureBase(cfg.Poller.IntervalBase),
				backoff.WithCap(cfg.Poller.FailureBackoffCap),
			),
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("failed to create polling service: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// MAINTENANCE JOBS
	// ─────────────────────────────────────────────────────────────────────────
	maintenance := scheduler.NewScheduler(log)

	if err := maintenance.Register(
		jobs.NewSnapshotMetricsJob(lifecycle, bus, log),
		scheduler.Every(5*time.Minute),
	); err != nil {
		return fmt.Errorf("failed to register metrics job: %w", err)
	}

	if pgJournal != nil {
		if err := maintenance.Register(
			jobs.NewPruneJournalJob(pgJournal, cfg.Database.JournalRetention, log),
			scheduler.Every(24*time.Hour),
		); err != nil {
			return fmt.Errorf("failed to register prune job: %w", err)
		}
	}

	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	serverConfig := httpapi.DefaultConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.IdleTimeout = cfg.Server.IdleTimeout
	serverConfig.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
	serverConfig.APIKeys = cfg.Server.APIKeys

	server := httpapi.NewServer(serverConfig, httpapi.Dependencies{
		Service:       service,
		Health:        client.IsHealthy,
		BreakerStates: client.BreakerStates,
		Logger:        log,
		Version:       cfg.App.Version,
	})

	serverErrCh := server.StartAsync()
	log.Info("MindLeap task hub worker is running", "address", server.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErrCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		log.Info("http server stopped")
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}

	if err := maintenance.Stop(); err != nil && err != scheduler.ErrNotRunning {
		log.Error("scheduler shutdown failed", "error", err)
	}

	log.Info("shutdown completed")
	return nil
}

// setupLogger configures structured logging per the observability config.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" || cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

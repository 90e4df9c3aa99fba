// Package main is the entrypoint for the VidQueue daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/vidqueue/internal/api"
	"github.com/kiranshivaraju/vidqueue/internal/api/handler"
	mw "github.com/kiranshivaraju/vidqueue/internal/api/middleware"
	"github.com/kiranshivaraju/vidqueue/internal/api/ws"
	"github.com/kiranshivaraju/vidqueue/internal/cache"
	"github.com/kiranshivaraju/vidqueue/internal/config"
	"github.com/kiranshivaraju/vidqueue/internal/download"
	"github.com/kiranshivaraju/vidqueue/internal/generation"
	"github.com/kiranshivaraju/vidqueue/internal/jobs"
	"github.com/kiranshivaraju/vidqueue/internal/scheduler"
	"github.com/kiranshivaraju/vidqueue/internal/store"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(newLogger(os.Stdout, "json", "info"))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run() error {
	// 1. Load config, failing fast when it is invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log.Format, cfg.Log.Level))
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"persistence", cfg.Persistence.Backend,
		"api_base_url", cfg.API.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect redis when configured; it backs rate limiting and may back
	// persistence.
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
	}

	// 3. Open persistence
	backend, closeBackend, err := openPersistence(ctx, cfg, redisCache)
	if err != nil {
		return err
	}
	defer closeBackend()
	backend = store.WithQuotaFallback(backend, store.ShedEmbeddedImages)
	slog.Info("persistence ready", "backend", cfg.Persistence.Backend)

	// 4. Restore state
	projects, err := store.LoadProjects(ctx, backend)
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	settings, err := store.LoadSettings(ctx, backend, defaultSettings(cfg))
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	saved, err := store.LoadJobs(ctx, backend)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	jobStore := store.NewJobStore()
	jobStore.Restore(saved)
	slog.Info("state restored",
		"jobs", len(jobStore.List()),
		"projects", len(projects.List()),
		"concurrency", settings.Concurrency)

	// 5. Build the execution pipeline
	executor := generation.NewExecutor(
		generation.NewHTTPClient(cfg.API.BaseURL, cfg.API.APIKey),
		download.NewHTTPDownloader(0),
		jobStore,
		generation.ExecutorConfig{
			FlushInterval: cfg.Scheduler.LogFlushInterval,
			MaxLogBytes:   cfg.Scheduler.MaxLogBytes,
			SaveDir:       settings.SavePath,
			FilePrefix:    settings.DownloadPrefix,
			DefaultExt:    cfg.Download.DefaultExt,
		},
	)
	sched := scheduler.New(jobStore, executor, settings.Concurrency)
	svc := jobs.NewService(jobStore, projects, sched, executor, backend, settings)
	persister := store.NewPersister(jobStore, backend)

	// 6. Start background loops. The scheduler gets its own context so it is
	// stopped only after the HTTP server has drained.
	go persister.Run(ctx)

	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	schedDone := make(chan struct{})
	go func() {
		sched.Run(schedCtx)
		close(schedDone)
	}()

	// 7. Build router with dependencies
	auth, err := mw.NewAuth(cfg.Server.APIToken, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("create auth: %w", err)
	}
	if !auth.Enabled() {
		slog.Warn("VIDQUEUE_API_TOKEN not set, API is unauthenticated")
	}

	// Cross-origin upgrades are accepted only when a token guards the stream.
	var hubOpts []ws.Option
	if auth.Enabled() {
		hubOpts = append(hubOpts, ws.AllowAnyOrigin())
	}
	hub := ws.NewHub(jobStore, hubOpts...)
	go hub.Run(ctx)

	var rateLimit *mw.RateLimit
	var cachePinger handler.Pinger
	if redisCache != nil {
		rateLimit = mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)
		cachePinger = redisCache
	}

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(backend, cachePinger, sched),

		SubmitJob: handler.NewSubmitJobHandler(svc),
		ListJobs:  handler.NewListJobsHandler(svc),
		GetJob:    handler.NewGetJobHandler(svc),
		RetryJob:  handler.NewRetryJobHandler(svc),
		CancelJob: handler.NewCancelJobHandler(svc),
		DeleteJob: handler.NewDeleteJobHandler(svc),
		ClearJobs: handler.NewClearJobsHandler(svc),

		ListProjects:  handler.NewListProjectsHandler(svc),
		CreateProject: handler.NewCreateProjectHandler(svc),
		DeleteProject: handler.NewDeleteProjectHandler(svc),

		GetSettings:    handler.NewGetSettingsHandler(svc),
		UpdateSettings: handler.NewUpdateSettingsHandler(svc),

		Events: hub,
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// 9. Graceful shutdown: HTTP first, then running jobs, then a last save.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}

	stopSched()
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		slog.Warn("timed out waiting for running jobs")
	}

	if err := persister.Flush(shutdownCtx); err != nil {
		slog.Error("final persist failed", "error", err)
	}

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

// openPersistence opens the configured backend. The returned func releases
// it and is never nil.
func openPersistence(ctx context.Context, cfg *config.Config, redisCache *cache.RedisCache) (store.Persistence, func(), error) {
	switch cfg.Persistence.Backend {
	case "file":
		fb, err := store.OpenFileBackend(cfg.Persistence.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open data dir: %w", err)
		}
		return fb, func() {
			if err := fb.Close(); err != nil {
				slog.Error("close data dir", "error", err)
			}
		}, nil

	case "postgres":
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresBackend(pool), pool.Close, nil

	case "redis":
		if redisCache == nil {
			return nil, nil, errors.New("redis persistence requires REDIS_URL")
		}
		return store.NewCacheBackend(redisCache, cfg.Persistence.MaxValueBytes), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
}

func defaultSettings(cfg *config.Config) models.Settings {
	return models.Settings{
		Concurrency:    cfg.Scheduler.Concurrency,
		SavePath:       cfg.Download.SavePath,
		DownloadPrefix: cfg.Download.Prefix,
	}
}

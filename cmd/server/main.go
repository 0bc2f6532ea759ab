// Package main is the entrypoint for the WindOps API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/windops/internal/api"
	"github.com/kiranshivaraju/windops/internal/api/handler"
	mw "github.com/kiranshivaraju/windops/internal/api/middleware"
	"github.com/kiranshivaraju/windops/internal/api/response"
	"github.com/kiranshivaraju/windops/internal/cache"
	"github.com/kiranshivaraju/windops/internal/config"
	"github.com/kiranshivaraju/windops/internal/dataset"
	"github.com/kiranshivaraju/windops/internal/engine"
	"github.com/kiranshivaraju/windops/internal/jobs"
	"github.com/kiranshivaraju/windops/internal/store"
	"github.com/kiranshivaraju/windops/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	engineHealthTTL = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"engine_provider", cfg.Engine.Provider,
		"env", cfg.Server.Env,
		"submit_wait", cfg.Jobs.SubmitWait.String(),
		"max_job_runtime", cfg.Jobs.MaxJobRuntime.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create analysis engine
	eng, err := engine.NewEngine(cfg.Engine)
	if err != nil {
		return fmt.Errorf("create analysis engine: %w", err)
	}
	slog.Info("analysis engine initialized", "engine", eng.Name())

	// 6. Datasets, job history and executor
	pgStore := store.NewPostgresStore(pool)

	datasets := dataset.NewManager()
	datasets.InitDemo()

	status := jobs.NewStatusStore()
	executor := jobs.NewExecutor(status, eng, datasets.CurrentSource,
		jobs.WithHistory(pgStore),
		jobs.WithMaxRuntime(cfg.Jobs.MaxJobRuntime),
	)
	if err := executor.Recover(ctx); err != nil {
		return fmt.Errorf("recover job history: %w", err)
	}

	// 7. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.APIKeyHash)
	if !auth.Enabled() {
		slog.Warn("API authentication disabled, set WINDOPS_API_KEY_HASH to enable it")
	}
	rateLimit := mw.NewRateLimit(redisCache, cfg.Auth.RateLimitPerMinute)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:     healthHandler(pgStore, redisCache, eng),
		SubmitHandler:     handler.NewSubmitHandler(executor, status, datasets, cfg.Jobs.SubmitWait),
		StatusHandler:     handler.NewStatusHandler(status),
		LastResultHandler: handler.NewLastResultHandler(status),
		ListJobsHandler:   handler.NewListJobsHandler(pgStore),
		GetJobHandler:     handler.NewGetJobHandler(pgStore),
		DataStatusHandler: handler.NewDataStatusHandler(datasets),
		DataResetHandler:  handler.NewDataResetHandler(datasets),
		UploadHandler:     handler.NewUploadHandler(datasets, cfg.Server.MaxUploadBytes),
		TemplatesHandler:  handler.NewTemplatesHandler(),
		PlantHandler:      handler.NewPlantSummaryHandler(datasets),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		return drain(srv, shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
	Close() error
}

// drain stops srv, waiting up to timeout for open requests. Submissions still
// waiting on a job are cut off when the timeout expires; the job itself is
// reported as interrupted on the next start.
func drain(srv shutdowner, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("requests still open after shutdown timeout, closing them", "timeout", timeout.String())
		if err := srv.Close(); err != nil {
			return fmt.Errorf("server close: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// readyChecker is implemented by engines that can be probed.
type readyChecker interface {
	Ready(ctx context.Context) error
}

// healthHandler checks database, cache and, for remote engines, engine
// connectivity. Engine probes are cached in Redis for engineHealthTTL.
func healthHandler(s store.Store, c cache.Cache, eng models.AnalysisEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"engine":   "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if rc, ok := eng.(readyChecker); ok {
			checks["engine"] = engineHealth(r.Context(), c, eng.Name(), rc)
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"engine":   eng.Name(),
			"services": checks,
		})
	}
}

func engineHealth(ctx context.Context, c cache.Cache, name string, rc readyChecker) string {
	v, _ := cache.Remember(ctx, c, cache.EngineHealthKey(name), engineHealthTTL, func(ctx context.Context) ([]byte, error) {
		if err := rc.Ready(ctx); err != nil {
			slog.Warn("analysis engine health check failed", "engine", name, "error", err)
			return []byte("degraded"), nil
		}
		return []byte("ok"), nil
	})
	return string(v)
}
